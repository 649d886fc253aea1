package api

import (
	"context"

	"loom/internal/governance"
)

// ProposalEngine abstracts the governance operations the API surfaces.
type ProposalEngine interface {
	Submit(ctx context.Context, req governance.SubmitRequest) (*governance.Proposal, error)
	Describe(ctx context.Context, tenantID, id string) (*governance.Proposal, error)
	Review(ctx context.Context, req governance.ReviewRequest) (*governance.ExecutionResult, error)
}

// ProposalService exposes the proposal lifecycle as API DTOs.
type ProposalService struct {
	engine ProposalEngine
}

// NewProposalService constructs a ProposalService around the engine.
func NewProposalService(engine ProposalEngine) *ProposalService {
	if engine == nil {
		return nil
	}
	return &ProposalService{engine: engine}
}

// Submit validates and records a proposal, returning it with the validator
// verdict attached.
func (s *ProposalService) Submit(ctx context.Context, req governance.SubmitRequest) (*ProposalView, error) {
	if s == nil || s.engine == nil {
		return nil, nil
	}
	proposal, err := s.engine.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	view := fromProposal(proposal)
	return &view, nil
}

// Describe fetches a proposal with its operations and any execution outcomes.
func (s *ProposalService) Describe(ctx context.Context, tenantID, id string) (*ProposalView, error) {
	if s == nil || s.engine == nil {
		return nil, nil
	}
	proposal, err := s.engine.Describe(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	view := fromProposal(proposal)
	return &view, nil
}

// Review applies a reviewer decision. Approval executes the surviving
// operations atomically; the returned view carries the per-op log.
func (s *ProposalService) Review(ctx context.Context, req governance.ReviewRequest) (*ExecutionView, error) {
	if s == nil || s.engine == nil {
		return nil, nil
	}
	result, err := s.engine.Review(ctx, req)
	if err != nil {
		return nil, err
	}
	view := fromExecutionResult(result)
	return &view, nil
}
