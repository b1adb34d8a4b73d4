package mirror

import (
	"fmt"
	"testing"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2023, 5, 17, 12, 0, 0, 0, time.UTC)

func testTx(n uint64) ledger.TransactionID {
	return ledger.TransactionID{
		AccountID:  ledger.AccountIDFromNum(1000 + n),
		ValidStart: t0.Add(time.Duration(n) * time.Second),
	}
}

// chunk returns chunk num of total for tx, its consensus timestamp and
// sequence number grow with num.
func chunk(tx ledger.TransactionID, num, total int32, content string) wire.TopicResponse {
	return wire.TopicResponse{
		ConsensusTimestamp: tx.ValidStart.Add(time.Duration(num) * time.Millisecond),
		Message:            []byte(content),
		RunningHash:        []byte(fmt.Sprintf("hash-%d", num)),
		RunningHashVersion: 3,
		SequenceNumber:     uint64(num),
		Chunk: &wire.ChunkInfo{
			InitialTransactionID: tx,
			Number:               num,
			Total:                total,
		},
	}
}

func newTestReassembler(t *testing.T, opts ReassemblerOptions) (*Reassembler, *time.Time) {
	r := NewReassembler(zaptest.NewLogger(t), opts)
	now := t0
	r.now = func() time.Time { return now }
	return r, &now
}

func TestReassemblerSingle(t *testing.T) {
	r, _ := newTestReassembler(t, ReassemblerOptions{})

	item := wire.TopicResponse{
		ConsensusTimestamp: t0,
		Message:            []byte("hello"),
		RunningHash:        []byte{1},
		RunningHashVersion: 3,
		SequenceNumber:     7,
	}
	m, ok := r.Push(item)
	require.True(t, ok)
	require.Equal(t, &TopicMessage{
		ConsensusTimestamp: t0,
		Contents:           []byte("hello"),
		RunningHash:        []byte{1},
		RunningHashVersion: 3,
		SequenceNumber:     7,
	}, m)

	m, ok = r.Push(chunk(testTx(1), 1, 1, "one"))
	require.True(t, ok)
	require.Equal(t, []byte("one"), m.Contents)
	require.Nil(t, m.Chunks)
	require.Nil(t, m.Transaction)
	require.Zero(t, r.Pending())
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var res [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			res = append(res, q)
		}
	}
	return res
}

func TestReassemblerPermutations(t *testing.T) {
	tx := testTx(1)
	chunks := []wire.TopicResponse{
		chunk(tx, 1, 3, "first "),
		chunk(tx, 2, 3, "second "),
		chunk(tx, 3, 3, "third"),
	}
	perms := permutations(len(chunks))
	require.Len(t, perms, 6)

	for _, p := range perms {
		t.Run(fmt.Sprint(p), func(t *testing.T) {
			r, _ := newTestReassembler(t, ReassemblerOptions{})
			var res []*TopicMessage
			for i, idx := range p {
				c := chunks[idx]
				if m, ok := r.Push(c); ok {
					res = append(res, m)
				}
				// Duplicates of anything but the last chunk are ignored.
				if i < len(p)-1 {
					dup := c
					dup.Message = []byte("garbage")
					_, ok := r.Push(dup)
					require.False(t, ok)
				}
			}
			require.Len(t, res, 1)
			m := res[0]
			require.Equal(t, "first second third", string(m.Contents))
			require.Equal(t, chunks[2].ConsensusTimestamp, m.ConsensusTimestamp)
			require.Equal(t, chunks[2].RunningHash, m.RunningHash)
			require.Equal(t, uint64(3), m.SequenceNumber)
			require.Equal(t, uint64(3), m.RunningHashVersion)
			require.NotNil(t, m.Transaction)
			require.True(t, tx.Equal(*m.Transaction))
			require.Len(t, m.Chunks, 3)
			for i, c := range m.Chunks {
				require.Equal(t, chunks[i].ConsensusTimestamp, c.ConsensusTimestamp)
				require.Equal(t, len(chunks[i].Message), c.ContentSize)
				require.Equal(t, chunks[i].SequenceNumber, c.SequenceNumber)
				require.Equal(t, chunks[i].RunningHash, c.RunningHash)
			}
			require.Zero(t, r.Pending())
		})
	}
}

func TestReassemblerInterleaved(t *testing.T) {
	r, _ := newTestReassembler(t, ReassemblerOptions{})
	a, b := testTx(1), testTx(2)

	_, ok := r.Push(chunk(a, 1, 2, "a1"))
	require.False(t, ok)
	_, ok = r.Push(chunk(b, 2, 2, "b2"))
	require.False(t, ok)
	require.Equal(t, 2, r.Pending())

	m, ok := r.Push(chunk(b, 1, 2, "b1"))
	require.True(t, ok)
	require.Equal(t, "b1b2", string(m.Contents))

	m, ok = r.Push(chunk(a, 2, 2, "a2"))
	require.True(t, ok)
	require.Equal(t, "a1a2", string(m.Contents))
	require.Zero(t, r.Pending())
}

func TestReassemblerTotalMismatch(t *testing.T) {
	r, _ := newTestReassembler(t, ReassemblerOptions{})
	tx := testTx(1)

	_, ok := r.Push(chunk(tx, 1, 3, "a"))
	require.False(t, ok)
	m, ok := r.Push(chunk(tx, 2, 2, "b"))
	require.True(t, ok)
	require.Equal(t, "ab", string(m.Contents))
}

func TestReassemblerExpiry(t *testing.T) {
	r, now := newTestReassembler(t, ReassemblerOptions{})
	tx := testTx(1)

	_, ok := r.Push(chunk(tx, 1, 2, "a"))
	require.False(t, ok)
	*now = now.Add(DefaultChunkExpiry)

	// The group and the late chunk are both dropped.
	_, ok = r.Push(chunk(tx, 2, 2, "b"))
	require.False(t, ok)
	require.Zero(t, r.Pending())

	// Anything after that starts a new group.
	_, ok = r.Push(chunk(tx, 2, 2, "b"))
	require.False(t, ok)
	require.Equal(t, 1, r.Pending())
}

func TestReassemblerSweep(t *testing.T) {
	r, now := newTestReassembler(t, ReassemblerOptions{Expiry: time.Minute})

	_, ok := r.Push(chunk(testTx(1), 1, 2, "a"))
	require.False(t, ok)
	*now = now.Add(30 * time.Second)
	_, ok = r.Push(chunk(testTx(2), 1, 2, "a"))
	require.False(t, ok)
	require.Equal(t, 2, r.Pending())

	*now = now.Add(30 * time.Second)
	_, ok = r.Push(wire.TopicResponse{ConsensusTimestamp: *now})
	require.True(t, ok)
	require.Equal(t, 2, r.Pending(), "single messages don't sweep")

	_, ok = r.Push(chunk(testTx(3), 1, 2, "a"))
	require.False(t, ok)
	require.Equal(t, 2, r.Pending())

	first, ok := r.EarliestPending()
	require.True(t, ok)
	require.Equal(t, testTx(2).ValidStart.Add(time.Millisecond), first)
}

func TestReassemblerMaxGroups(t *testing.T) {
	r, _ := newTestReassembler(t, ReassemblerOptions{MaxGroups: 2})

	for i := uint64(1); i <= 3; i++ {
		_, ok := r.Push(chunk(testTx(i), 1, 2, "a"))
		require.False(t, ok)
	}
	require.Equal(t, 2, r.Pending())

	// The first group was evicted, its last chunk starts a new one.
	_, ok := r.Push(chunk(testTx(1), 2, 2, "b"))
	require.False(t, ok)

	m, ok := r.Push(chunk(testTx(3), 2, 2, "b"))
	require.True(t, ok)
	require.Equal(t, "ab", string(m.Contents))
}

func TestReassemblerEarliestPending(t *testing.T) {
	r, _ := newTestReassembler(t, ReassemblerOptions{})

	_, ok := r.EarliestPending()
	require.False(t, ok)

	tx := testTx(5)
	r.Push(chunk(tx, 3, 3, "c"))
	r.Push(chunk(tx, 2, 3, "b"))
	r.Push(chunk(testTx(6), 1, 2, "x"))

	first, ok := r.EarliestPending()
	require.True(t, ok)
	require.Equal(t, tx.ValidStart.Add(2*time.Millisecond), first)
}
