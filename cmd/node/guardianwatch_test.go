package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/certusone/wormhole/portal/pkg/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	guardianA = "0x58CC3AE5C097b213cE3c81979e1B9f9570746AA5"
	guardianB = "0xfF6CB952589BDE862c25Ef4392132fb9D4A42157"
)

func writeGuardianSet(t *testing.T, path string, index uint32, keys ...string) {
	t.Helper()
	body := fmt.Sprintf(`{"index": %d, "keys": [`, index)
	for i, k := range keys {
		if i > 0 {
			body += ","
		}
		body += `"` + k + `"`
	}
	require.NoError(t, os.WriteFile(path, []byte(body+"]}"), 0o600))
}

func TestReadGuardianSetFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"index": 3, "keys": ["` + guardianA + `", "` + guardianB + `"]}`, false},
		{"not json", `index: 3`, true},
		{"missing index", `{"keys": ["` + guardianA + `"]}`, true},
		{"no keys", `{"index": 3, "keys": []}`, true},
		{"bad key", `{"index": 3, "keys": ["beef"]}`, true},
	}
	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("gs%d.json", i))
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))
			gs, err := readGuardianSetFile(path)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint32(3), gs.Index)
			assert.Equal(t, []common.Address{common.HexToAddress(guardianA), common.HexToAddress(guardianB)}, gs.Keys)
		})
	}
}

func TestGuardianSetWatcherInstallsNewerSets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardians.json")
	writeGuardianSet(t, path, 1, guardianA)

	verifier := core.NewVerifier(&core.GuardianSet{Index: 0, Keys: []common.Address{common.HexToAddress(guardianB)}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newGuardianSetWatcher(zap.NewNop(), path, verifier).run(ctx) }()

	// The file present at startup is picked up.
	require.Eventually(t, func() bool { return verifier.CurrentIndex() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		writeGuardianSet(t, path, 2, guardianA, guardianB)
		return verifier.CurrentIndex() == 2
	}, 5*time.Second, 50*time.Millisecond)

	// Older sets and broken files leave the current set alone.
	writeGuardianSet(t, path, 1, guardianB)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, uint32(2), verifier.CurrentIndex())

	cancel()
	require.NoError(t, <-done)
}
