package detector

import (
	"fmt"

	"github.com/agent-lens/backend/internal/model"
)

// recommendAction - mechanism/심각도별 검토 권고 문구 생성
// 판정(verdict)이 아니라 사람이 검토할 때 참고하는 안내 문구
func recommendAction(a model.AnomalyAlert) string {
	critical := a.Severity == model.SeverityCritical

	switch a.Mechanism {
	case model.MechanismCrossAgentDivergence:
		if critical {
			return fmt.Sprintf("Prioritize review of agent %s in domain %q: %s deviates %s from domain peers. Compare evidence traces against peer decisions.",
				a.AgentIDHash, a.DomainValue(), a.Metric, a.Deviation)
		}
		return fmt.Sprintf("Review recent %s scores for agent %s in domain %q against domain peers (%s).",
			a.Metric, a.AgentIDHash, a.DomainValue(), a.Deviation)

	case model.MechanismIntraAgentConsistency:
		if critical {
			return fmt.Sprintf("Agent %s selects widely different actions for the same trace type with unstable plausibility (%s). Audit decision inputs for contradictory reasoning.",
				a.AgentIDHash, a.Deviation)
		}
		return fmt.Sprintf("Spot-check agent %s for inconsistent action selection (%s).", a.AgentIDHash, a.Deviation)

	case model.MechanismHashChainVerification:
		return fmt.Sprintf("Audit chain for agent %s has %s. Verify trace ingestion and check for deleted or tampered audit entries before trusting this agent's record.",
			a.AgentIDHash, a.Deviation)

	case model.MechanismTemporalDrift:
		day := a.Timestamp.Format("2006-01-02")
		if critical {
			return fmt.Sprintf("Agent %s shows a sharp %s shift on %s (%.3f -> %.3f). Check for model, prompt or configuration changes deployed that day.",
				a.AgentIDHash, a.Metric, day, a.Baseline, a.Value)
		}
		return fmt.Sprintf("Monitor agent %s: %s changed %s on %s.", a.AgentIDHash, a.Metric, a.Deviation, day)

	case model.MechanismConscienceOverride:
		if critical {
			return fmt.Sprintf("Agent %s is overridden by conscience checks %s the domain %q average. Review overridden actions and the agent's base policy.",
				a.AgentIDHash, a.Deviation, a.DomainValue())
		}
		return fmt.Sprintf("Review conscience overrides for agent %s in domain %q (%s domain average).",
			a.AgentIDHash, a.DomainValue(), a.Deviation)
	}
	return "Review evidence traces."
}

// withRecommendation - 권고 문구를 채운 알림 반환
func withRecommendation(a model.AnomalyAlert) model.AnomalyAlert {
	a.RecommendedAction = recommendAction(a)
	return a
}
