package agent

// ApprovalPolicy decides which tool calls must wait for a decision.
type ApprovalPolicy struct {
	require map[string]struct{}
	exempt  map[string]struct{}
}

// NewApprovalPolicy gates the tools in require, or every tool when require is
// empty. Names in autoApprove are never gated.
func NewApprovalPolicy(require, autoApprove []string) ApprovalPolicy {
	return ApprovalPolicy{require: toSet(require), exempt: toSet(autoApprove)}
}

// Requires reports whether a call to name must be approved.
func (p ApprovalPolicy) Requires(name string) bool {
	if _, ok := p.exempt[name]; ok {
		return false
	}
	if len(p.require) == 0 {
		return true
	}
	_, ok := p.require[name]
	return ok
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
