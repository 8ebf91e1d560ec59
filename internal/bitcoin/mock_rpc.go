package bitcoin

import (
	"context"
	"sync"
)

// MockRPC implements NodeRPC for testing.
type MockRPC struct {
	mu sync.Mutex

	BlockTemplate   *BlockTemplate
	MiningInfo      *MiningInfo
	SubmitVerdict   string
	SubmittedBlocks []string

	// Error overrides
	GetBlockTemplateErr error
	SubmitBlockErr      error
	GetMiningInfoErr    error
}

// NewMockRPC creates a new mock node RPC client with sensible defaults.
func NewMockRPC() *MockRPC {
	return &MockRPC{
		BlockTemplate: &BlockTemplate{
			Version:                  805306368,
			PreviousBlockHash:        "0000000000000003fa0d845513ea5014a7859d411f5f4a91eaab24eb47a18f39",
			Transactions:             []TemplateTransaction{},
			CoinbaseValue:            250000000000,
			Target:                   "00000000ffff0000000000000000000000000000000000000000000000000000",
			CurTime:                  1700000000,
			Bits:                     "1d00ffff",
			Height:                   100000,
			DefaultWitnessCommitment: "6a24aa21a9ede2f61c3f71d1defd3fa999dfa36953755c690689799962b48bebd836974e8cf9",
			CommunityAddress:         "",
			CommunityValue:           12500000000,
		},
		MiningInfo: &MiningInfo{
			Blocks:        100000,
			Difficulty:    12345.6,
			NetworkHashPS: 2.5e12,
		},
	}
}

// SetTemplate replaces the template returned by GetBlockTemplate.
func (m *MockRPC) SetTemplate(tmpl *BlockTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BlockTemplate = tmpl
}

func (m *MockRPC) GetBlockTemplate(_ context.Context) (*BlockTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBlockTemplateErr != nil {
		return nil, m.GetBlockTemplateErr
	}
	return m.BlockTemplate, nil
}

func (m *MockRPC) SubmitBlock(_ context.Context, blockHex string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitBlockErr != nil {
		return "", m.SubmitBlockErr
	}
	m.SubmittedBlocks = append(m.SubmittedBlocks, blockHex)
	return m.SubmitVerdict, nil
}

func (m *MockRPC) GetMiningInfo(_ context.Context) (*MiningInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetMiningInfoErr != nil {
		return nil, m.GetMiningInfoErr
	}
	return m.MiningInfo, nil
}

// Submissions returns a copy of the submitted block hex strings.
func (m *MockRPC) Submissions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.SubmittedBlocks))
	copy(out, m.SubmittedBlocks)
	return out
}
