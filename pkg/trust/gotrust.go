//go:build vc20
// +build vc20

package trust

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/sirosfoundation/go-trust/pkg/authzen"
	"github.com/sirosfoundation/go-trust/pkg/authzenclient"
)

// GoTrustEvaluator implements TrustEvaluator by delegating x5c certificate
// chain validation to an external AuthZEN policy decision point via
// go-trust. It is the alternative to LocalTrustEvaluator for deployments
// that manage IACA trust lists centrally instead of shipping a root pool
// with every verifier.
//
// Build-tagged vc20, same as the teacher's own opt-in convention: the
// go-trust client is a real network dependency a library's default build
// should not force on every caller.
type GoTrustEvaluator struct {
	client *authzenclient.Client
}

// NewGoTrustEvaluator creates a trust evaluator using go-trust with a known PDP URL.
func NewGoTrustEvaluator(pdpURL string) *GoTrustEvaluator {
	client := authzenclient.New(pdpURL)
	return &GoTrustEvaluator{client: client}
}

// NewGoTrustEvaluatorWithDiscovery creates a trust evaluator using AuthZEN discovery.
func NewGoTrustEvaluatorWithDiscovery(ctx context.Context, baseURL string) (*GoTrustEvaluator, error) {
	client, err := authzenclient.Discover(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("authzen discovery failed: %w", err)
	}
	return &GoTrustEvaluator{client: client}, nil
}

// Evaluate implements TrustEvaluator for x5c (IACA-rooted) chains.
func (e *GoTrustEvaluator) Evaluate(ctx context.Context, req *EvaluationRequest) (*TrustDecision, error) {
	if req == nil {
		return nil, fmt.Errorf("evaluation request is nil")
	}
	if req.KeyType != KeyTypeX5C {
		return nil, fmt.Errorf("unsupported key type: %s", req.KeyType)
	}

	authzenReq, err := e.buildX5CRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build evaluation request: %w", err)
	}

	resp, err := e.client.Evaluate(ctx, authzenReq)
	if err != nil {
		return nil, fmt.Errorf("trust evaluation failed: %w", err)
	}

	decision := &TrustDecision{Trusted: resp.Decision}
	if resp.Context != nil {
		if resp.Context.Reason != nil {
			if userReason, ok := resp.Context.Reason["user"].(string); ok {
				decision.Reason = userReason
			} else if adminReason, ok := resp.Context.Reason["admin"].(string); ok {
				decision.Reason = adminReason
			}
		}
		decision.Metadata = resp.Context.TrustMetadata
		if meta, ok := resp.Context.TrustMetadata.(map[string]any); ok {
			if tf, ok := meta["trust_framework"].(string); ok {
				decision.TrustFramework = tf
			}
		}
	}
	return decision, nil
}

// SupportsKeyType implements TrustEvaluator.
func (e *GoTrustEvaluator) SupportsKeyType(kt KeyType) bool {
	return kt == KeyTypeX5C
}

func (e *GoTrustEvaluator) buildX5CRequest(req *EvaluationRequest) (*authzen.EvaluationRequest, error) {
	var certStrings []string
	switch k := req.Key.(type) {
	case []*x509.Certificate:
		certStrings = X5CCertChain(k).ToBase64Strings()
	case X5CCertChain:
		certStrings = k.ToBase64Strings()
	case []string:
		certStrings = k
	default:
		return nil, fmt.Errorf("invalid key type for x5c: %T", req.Key)
	}

	keys := make([]interface{}, len(certStrings))
	for i, cert := range certStrings {
		keys[i] = cert
	}

	authzenReq := &authzen.EvaluationRequest{
		Subject:  authzen.Subject{Type: "key", ID: req.SubjectID},
		Resource: authzen.Resource{Type: "x5c", ID: req.SubjectID, Key: keys},
	}
	if action := req.GetEffectiveAction(); action != "" {
		authzenReq.Action = &authzen.Action{Name: action}
	}
	e.addContextOptions(authzenReq, req.Options)
	return authzenReq, nil
}

func (e *GoTrustEvaluator) addContextOptions(req *authzen.EvaluationRequest, opts *TrustOptions) {
	if opts == nil {
		return
	}
	if req.Context == nil {
		req.Context = make(map[string]interface{})
	}
	if opts.IncludeTrustChain {
		req.Context["include_trust_chain"] = true
	}
	if opts.IncludeCertificates {
		req.Context["include_certificates"] = true
	}
	if opts.BypassCache {
		req.Context["cache_control"] = "no-cache"
	}
}

// Verify interface compliance
var _ TrustEvaluator = (*GoTrustEvaluator)(nil)
