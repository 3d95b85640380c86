package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shielded/internal/crypto"
	"shielded/internal/ledger"
	"shielded/internal/merkle"
	"shielded/internal/storage"
	"shielded/internal/transaction"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type denyLimiter struct{ allow bool }

func (l *denyLimiter) Allow(string) bool { return l.allow }

type countingRecorder struct {
	mu       sync.Mutex
	requests map[string]int
	created  map[string]int
	rejected int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{requests: map[string]int{}, created: map[string]int{}}
}

func (r *countingRecorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[method+" "+route]++
}

func (r *countingRecorder) TransactionCreated(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[kind]++
}

func (r *countingRecorder) RequestRejected(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected++
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	store, err := storage.OpenFileStore(t.TempDir())
	require.NoError(t, err)
	cctx := crypto.NewDeterministic([]byte(t.Name()))
	l, err := ledger.Open(context.Background(), store, ledger.Options{Crypto: cctx})
	require.NoError(t, err)
	opts.Ledger = l
	if opts.RangeMax == 0 {
		opts.RangeMax = 1000
	}
	return NewServer(opts)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Options{})
	w := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	s = newTestServer(t, Options{Health: func(context.Context) (bool, any) {
		return false, gin.H{"overall_status": "unhealthy"}
	}})
	w = do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTransactionLifecycle(t *testing.T) {
	rec := newCountingRecorder()
	s := newTestServer(t, Options{Recorder: rec})

	w := do(t, s, http.MethodPost, "/v1/transactions", createTransactionRequest{From: "alice", To: "bob", Amount: 1000, Shielded: true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[ledger.Receipt](t, w)
	require.NotNil(t, created.Transaction)
	assert.Equal(t, 0, created.LeafIndex)
	assert.Equal(t, transaction.Shielded, created.Transaction.Type)
	assert.Equal(t, uint64(1), created.Transaction.Fee)
	id := created.Transaction.ID

	w = do(t, s, http.MethodPost, "/v1/transactions", createTransactionRequest{From: "alice", To: "carol", Amount: 50})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, s, http.MethodGet, "/v1/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[listTransactionsResponse](t, w)
	assert.Equal(t, 2, list.Count)

	w = do(t, s, http.MethodGet, "/v1/transactions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[transaction.ShieldedTransaction](t, w)
	assert.Equal(t, id, got.ID)

	w = do(t, s, http.MethodGet, "/v1/transactions/"+id+"/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[ledger.Verification](t, w)
	assert.True(t, v.Found)
	assert.True(t, v.FormatValid)
	assert.True(t, v.Balanced)
	assert.True(t, v.ProofValid)

	w = do(t, s, http.MethodPost, "/v1/transactions/"+id+"/proof", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[proofResponse](t, w)
	assert.True(t, p.Valid)

	w = do(t, s, http.MethodPost, "/v1/transactions/"+id+"/proof?type=spend", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"proof_type":"SpendProof"`)

	assert.Equal(t, 1, rec.created["Shielded"])
	assert.Equal(t, 1, rec.created["Public"])
	assert.Equal(t, 2, rec.requests["POST /v1/transactions"])
	assert.Equal(t, 1, rec.requests["GET /v1/transactions/:id"])
}

func TestTransactionErrors(t *testing.T) {
	s := newTestServer(t, Options{})

	w := do(t, s, http.MethodPost, "/v1/transactions", map[string]any{"to": "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[errorResponse](t, w).Code)

	w = do(t, s, http.MethodPost, "/v1/transactions", createTransactionRequest{From: "a", To: "b", Amount: ^uint64(0), Shielded: true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_AMOUNT", decode[errorResponse](t, w).Code)

	w = do(t, s, http.MethodGet, "/v1/transactions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorResponse](t, w).Code)

	w = do(t, s, http.MethodGet, "/v1/transactions/missing/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[ledger.Verification](t, w).Found)

	w = do(t, s, http.MethodPost, "/v1/transactions", createTransactionRequest{From: "a", To: "b", Amount: 5})
	require.Equal(t, http.StatusCreated, w.Code)
	public := decode[ledger.Receipt](t, w).Transaction.ID
	w = do(t, s, http.MethodPost, "/v1/transactions/"+public+"/proof?type=spend", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_TRANSACTION", decode[errorResponse](t, w).Code)

	w = do(t, s, http.MethodGet, "/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMerkleEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})

	w := do(t, s, http.MethodGet, "/v1/merkle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, merkle.EmptyRoot, decode[merkle.Snapshot](t, w).Root)

	var ids []string
	for i := 0; i < 3; i++ {
		w = do(t, s, http.MethodPost, "/v1/transactions", createTransactionRequest{From: "a", To: "b", Amount: uint64(10 + i)})
		require.Equal(t, http.StatusCreated, w.Code)
		ids = append(ids, decode[ledger.Receipt](t, w).Transaction.ID)
	}

	w = do(t, s, http.MethodGet, "/v1/merkle", nil)
	snap := decode[merkle.Snapshot](t, w)
	assert.Equal(t, 3, snap.LeafCount)
	assert.Equal(t, 2, snap.Height)

	w = do(t, s, http.MethodGet, "/v1/merkle/proof/"+ids[2], nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[ledger.InclusionProof](t, w)
	assert.Equal(t, 2, p.LeafIndex)
	assert.Equal(t, snap.Root, p.Root)

	w = do(t, s, http.MethodPost, "/v1/merkle/verify", map[string]any{"leaf_data": ids[2], "proof": p.Proof, "index": p.LeafIndex})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[validResponse](t, w).Valid)

	w = do(t, s, http.MethodPost, "/v1/merkle/verify", map[string]any{"leaf_data": ids[1], "proof": p.Proof, "index": p.LeafIndex})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[validResponse](t, w).Valid)

	w = do(t, s, http.MethodPost, "/v1/merkle/verify", map[string]any{"leaf_data": ids[1]})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/v1/merkle/proof/absent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCommitmentEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})

	w := do(t, s, http.MethodPost, "/v1/commitments", createCommitmentRequest{Amount: 42})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[createCommitmentResponse](t, w)
	assert.True(t, crypto.IsDigestHex(created.Commitment.CommitmentHash))
	assert.Nil(t, created.Commitment.Amount)
	assert.True(t, created.KnowledgeValid)
	assert.Contains(t, w.Body.String(), `"amount":null`)

	open := openCommitmentRequest{CommitmentHash: created.Commitment.CommitmentHash, Nonce: created.Commitment.Nonce, Amount: 42}
	w = do(t, s, http.MethodPost, "/v1/commitments/open", open)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[validResponse](t, w).Valid)

	open.Amount = 43
	w = do(t, s, http.MethodPost, "/v1/commitments/open", open)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[validResponse](t, w).Valid)

	open.Nonce = "zz"
	w = do(t, s, http.MethodPost, "/v1/commitments/open", open)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CRYPTO_INPUT", decode[errorResponse](t, w).Code)
}

func TestProofEndpoints(t *testing.T) {
	s := newTestServer(t, Options{RangeMin: 10, RangeMax: 100})

	w := do(t, s, http.MethodPost, "/v1/proofs/range", rangeProofRequest{Amount: 50})
	require.Equal(t, http.StatusOK, w.Code)
	rp := decode[rangeProofResponse](t, w)
	assert.Equal(t, uint64(10), rp.Min)
	assert.Equal(t, uint64(100), rp.Max)
	assert.True(t, crypto.IsDigestHex(rp.Proof))

	again := decode[rangeProofResponse](t, do(t, s, http.MethodPost, "/v1/proofs/range", rangeProofRequest{Amount: 50}))
	assert.Equal(t, rp.Proof, again.Proof, "unsalted proofs are deterministic")

	salted := decode[rangeProofResponse](t, do(t, s, http.MethodPost, "/v1/proofs/range", rangeProofRequest{Amount: 50, Salted: true}))
	assert.NotEqual(t, rp.Proof, salted.Proof)

	w = do(t, s, http.MethodPost, "/v1/proofs/range", rangeProofRequest{Amount: 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_AMOUNT", decode[errorResponse](t, w).Code)

	lo := uint64(0)
	w = do(t, s, http.MethodPost, "/v1/proofs/range", rangeProofRequest{Amount: 5, Min: &lo})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodPost, "/v1/proofs/balance", balanceProofRequest{Input: 1001, Output: 1000, Fee: 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, crypto.IsDigestHex(decode[balanceProofResponse](t, w).Proof))

	w = do(t, s, http.MethodPost, "/v1/proofs/balance", balanceProofRequest{Input: 1000, Output: 1000, Fee: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_TRANSACTION", decode[errorResponse](t, w).Code)
}

type brokenEntropy struct{}

func (brokenEntropy) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestRandomSourceFailureIsServerError(t *testing.T) {
	store, err := storage.OpenFileStore(t.TempDir())
	require.NoError(t, err)
	l, err := ledger.Open(context.Background(), store, ledger.Options{
		Crypto: &crypto.Context{Hasher: crypto.SHA256{}, Rand: brokenEntropy{}},
	})
	require.NoError(t, err)
	s := NewServer(Options{Ledger: l, RangeMax: 1000})

	w := do(t, s, http.MethodPost, "/v1/commitments", createCommitmentRequest{Amount: 42})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "RANDOMNESS", decode[errorResponse](t, w).Code)

	w = do(t, s, http.MethodPost, "/v1/transactions", createTransactionRequest{From: "alice", To: "bob", Amount: 10})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "RANDOMNESS", decode[errorResponse](t, w).Code)

	w = do(t, s, http.MethodPost, "/v1/commitments/open", openCommitmentRequest{CommitmentHash: "ab", Nonce: "zz", Amount: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CRYPTO_INPUT", decode[errorResponse](t, w).Code)
}

func TestConcurrentCreateRootsMatchLeafIndex(t *testing.T) {
	s := newTestServer(t, Options{})

	const n = 16
	responses := make([]*httptest.ResponseRecorder, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = do(t, s, http.MethodPost, "/v1/transactions", createTransactionRequest{From: "alice", To: "bob", Amount: uint64(i + 1)})
		}(i)
	}
	wg.Wait()

	receipts := make([]ledger.Receipt, n)
	ids := make([]string, n)
	for i, w := range responses {
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		receipts[i] = decode[ledger.Receipt](t, w)
		require.NotNil(t, receipts[i].Transaction)
		ids[receipts[i].LeafIndex] = receipts[i].Transaction.ID
	}
	leaves := s.ledger.Snapshot().Leaves
	require.Len(t, leaves, n)
	for _, r := range receipts {
		assert.Equal(t, merkle.HashLeaf(crypto.SHA256{}, r.Transaction.ID), leaves[r.LeafIndex])
		assert.Equal(t, r.LeafIndex+1, r.LeafCount)
		assert.Equal(t, merkle.Rebuild(crypto.SHA256{}, ids[:r.LeafIndex+1]).Root(), r.Root)
	}
}

func TestRateLimit(t *testing.T) {
	rec := newCountingRecorder()
	limiter := &denyLimiter{allow: false}
	s := newTestServer(t, Options{Limiter: limiter, Recorder: rec})

	w := do(t, s, http.MethodGet, "/v1/merkle", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[errorResponse](t, w).Code)
	assert.Equal(t, 1, rec.rejected)

	w = do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health is never limited")

	limiter.allow = true
	w = do(t, s, http.MethodGet, "/v1/merkle", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsHandlerMounted(t *testing.T) {
	s := newTestServer(t, Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("shielded_up 1\n"))
	})})
	w := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shielded_up 1")
}
