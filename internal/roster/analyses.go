package roster

import (
	"github.com/ShayCichocki/rosterbuild/internal/orchestrator"
)

// Analyses is the typed view of the analysis slots the synthesis stage reads.
type Analyses struct {
	Player    orchestrator.Output
	SalaryCap orchestrator.Output
	Chemistry orchestrator.Output
}

// AnalysesFrom reads the three analysis outputs from in.
func AnalysesFrom(in orchestrator.Inputs) Analyses {
	player, _ := in.Get(StagePlayerAnalysis)
	salary, _ := in.Get(StageSalaryCap)
	chem, _ := in.Get(StageTeamChemistry)
	return Analyses{Player: player, SalaryCap: salary, Chemistry: chem}
}

// Degraded lists the analysis stages whose output is a failure placeholder.
func (a Analyses) Degraded() []string {
	var out []string
	for _, o := range []orchestrator.Output{a.Player, a.SalaryCap, a.Chemistry} {
		if o.Degraded {
			out = append(out, o.Stage)
		}
	}
	return out
}
