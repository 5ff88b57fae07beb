package dashboard

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jaakkos/takopi-smithers/internal/app"
)

func TestFleetCollector(t *testing.T) {
	f := &mockFleet{reports: []app.StatusReport{
		{Branch: "main", SupervisorRunning: true, HeartbeatOK: true},
		{Branch: "a", SupervisorRunning: true},
		{Branch: "b"},
	}}
	const want = `
# HELP takopi_smithers_fleet_worktrees Configured worktrees by supervisor state.
# TYPE takopi_smithers_fleet_worktrees gauge
takopi_smithers_fleet_worktrees{state="paused"} 0
takopi_smithers_fleet_worktrees{state="running"} 2
takopi_smithers_fleet_worktrees{state="stale"} 1
takopi_smithers_fleet_worktrees{state="total"} 3
`
	if err := testutil.CollectAndCompare(NewFleetCollector(f), strings.NewReader(want)); err != nil {
		t.Error(err)
	}
}
