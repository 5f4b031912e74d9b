package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/POA-Delta/backend-replacement/internal/domain"
	"github.com/POA-Delta/backend-replacement/internal/events"
	"github.com/POA-Delta/backend-replacement/internal/platform/eth"
)

type fakeCheckpoints struct {
	mu   sync.Mutex
	rows map[string]uint64
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{rows: make(map[string]uint64)}
}

func (s *fakeCheckpoints) Get(_ context.Context, name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.rows[name]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return block, nil
}

func (s *fakeCheckpoints) Set(_ context.Context, name string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[name] = blockNumber
	return nil
}

func TestResumeBlock(t *testing.T) {
	checkpoints := newFakeCheckpoints()
	orch := NewOrchestrator(nil, nil, checkpoints, nil, nil, "",
		OrchestratorConfig{StartBlock: 3_154_100},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	// First run: no checkpoint yet.
	from, err := orch.resumeBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3_154_100), from)

	// Restart resumes one past the last covered block.
	require.NoError(t, checkpoints.Set(context.Background(), checkpointName, 4_000_000))
	from, err = orch.resumeBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000_001), from)
}

func TestDispatch_DropsReorgedAndMalformedLogs(t *testing.T) {
	normalizer := events.NewNormalizer(eth.ExchangeABI, common.HexToAddress("0x8d12A197cB00D4747a1fe03395095ce2A5CC6819"))
	d := NewDispatcher(normalizer, nil, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tradeID := eth.ExchangeABI.Events["Trade"].ID

	tests := []struct {
		name string
		lg   types.Log
	}{
		{
			name: "removed by reorg",
			lg: types.Log{
				Topics:  []common.Hash{tradeID},
				TxHash:  common.HexToHash("0x01"),
				Removed: true,
			},
		},
		{
			name: "unknown topic",
			lg: types.Log{
				Topics: []common.Hash{common.HexToHash("0xbeef")},
				TxHash: common.HexToHash("0x01"),
			},
		},
		{
			name: "undecodable data",
			lg: types.Log{
				Topics: []common.Hash{tradeID},
				TxHash: common.HexToHash("0x01"),
				Data:   []byte{0x01, 0x02},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The recorder is nil: reaching it would panic, so a nil error
			// proves the log was dropped before recording.
			assert.NoError(t, d.Dispatch(context.Background(), tt.lg))
		})
	}
}
