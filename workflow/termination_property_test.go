package workflow_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/hid"
	"goa.design/taskflow/plan"
	"goa.design/taskflow/providers"
)

// TestRunTerminatesForAnyIndependentPlanSize is a property check for
// invariant 1 in §8: for any number of independent, dependency-free items
// that all execute and verify successfully, Engine.Run returns (does not
// hang) and accounts for every item exactly once.
func TestRunTerminatesForAnyIndependentPlanSize(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("engine terminates and completes every independent item", prop.ForAll(
		func(n int) bool {
			toolLLM := &queueLLM{responses: []string{
				`{"tool_calls":[{"server":"filesystem","tool":"write_file","parameters":{"path":"/tmp/p.txt","content":"x"}}],"reasoning":"write"}`,
			}}
			decisionLLM := staticLLM{response: `{"verified":true,"confidence":95,"reason":"criteria met","evidence":"ok"}`}
			sink := &recordingSink{}

			e, _ := buildEngine(t, toolLLM, decisionLLM, staticLLM{}, sink, []providers.Tool{writeFileTool()})

			items := make([]plan.Item, n)
			for i := 0; i < n; i++ {
				items[i] = plan.Item{
					ID:              hid.MustParse(fmt.Sprintf("%d", i+1)),
					Action:          fmt.Sprintf("write file %d", i+1),
					SuccessCriteria: "file written",
					Status:          plan.StatusPending,
					MaxAttempts:     1,
				}
			}
			pl := &plan.Plan{ID: "p", RunID: "r", Request: "write n files", Items: items}

			done := make(chan struct{})
			var summaryCompleted, summaryTotal int
			var summaryRate float64
			var runErr error
			go func() {
				defer close(done)
				summary, err := e.Run(context.Background(), "s1", pl)
				summaryCompleted, summaryTotal, summaryRate, runErr = summary.Completed, summary.Total, summary.SuccessRate, err
			}()

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				return false // did not terminate
			}

			if runErr != nil {
				return false
			}
			if summaryCompleted != n || summaryTotal != n {
				return false
			}
			if n > 0 && summaryRate != 100.0 {
				return false
			}
			for _, it := range pl.Items {
				if it.Status != plan.StatusCompleted {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 6),
	))

	result := properties.Run(gopter.ConsoleReporter(false))
	require.True(t, result)
}
