package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/agent-lens/backend/internal/db"
	"github.com/agent-lens/backend/internal/detector"
	"github.com/agent-lens/backend/internal/model"
	"github.com/spf13/cobra"
)

var errChainBroken = errors.New("hash chain breaks found")

func newVerifyChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-chain <trace-file>",
		Short: "Verify audit sequence continuity of a YAML/JSON trace export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := db.LoadTraceFile(args[0])
			if err != nil {
				return err
			}
			return verifyChains(cmd.OutOrStdout(), traces)
		},
	}
}

// verifyChains - agent별 audit 시퀀스를 검증하고 결과 출력
// Returns: 단절이 하나라도 있으면 errChainBroken
func verifyChains(w io.Writer, traces []model.Trace) error {
	byAgent := map[string][]model.ChainEntry{}
	for _, t := range traces {
		if e, ok := t.ChainEntry(); ok {
			byAgent[e.AgentIDHash] = append(byAgent[e.AgentIDHash], e)
		}
	}

	agents := make([]string, 0, len(byAgent))
	for agent := range byAgent {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	total := 0
	for _, agent := range agents {
		breaks := detector.VerifyHashChain(byAgent[agent])
		if len(breaks) == 0 {
			fmt.Fprintf(w, "%s: OK (%d entries)\n", agent, len(byAgent[agent]))
			continue
		}
		total += len(breaks)
		fmt.Fprintf(w, "%s: %d break(s)\n", agent, len(breaks))
		for _, b := range breaks {
			fmt.Fprintf(w, "  %s at %s: expected seq %d, got %d\n", b.BreakType, b.TraceID, b.ExpectedSeq, b.ActualSeq)
		}
	}

	if total > 0 {
		return fmt.Errorf("%w: %d across %d agent(s)", errChainBroken, total, len(agents))
	}
	return nil
}
