package zkproof

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shielded/internal/crypto"
	"shielded/internal/shielderr"
)

var fixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProver(seed string) *Prover {
	return NewProver(crypto.NewDeterministic([]byte(seed))).WithClock(func() time.Time { return fixedTime })
}

func TestGenerateCompact(t *testing.T) {
	p := newTestProver("generate")
	proof, err := p.Generate("tx-1")
	require.NoError(t, err)

	id, data, ok := SplitCompact(proof)
	require.True(t, ok)
	assert.Len(t, id, 32)
	assert.Len(t, data, crypto.HexDigestSize)
	assert.True(t, VerifyCompact(proof))

	again, err := p.Generate("tx-1")
	require.NoError(t, err)
	assert.NotEqual(t, proof, again)
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	a, err := newTestProver("same").Generate("tx")
	require.NoError(t, err)
	b, err := newTestProver("same").Generate("tx")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestVerifyCompactRejects(t *testing.T) {
	for _, proof := range []string{"", "nocolon", strings.Repeat("a", 31) + ":" + strings.Repeat("b", 64), strings.Repeat("a", 32) + ":short"} {
		assert.False(t, VerifyCompact(proof), proof)
	}
}

func TestCreateSpendProof(t *testing.T) {
	p := newTestProver("spend")
	proof, err := p.CreateSpendProof("tx-9", []string{"in1"}, []string{"out1", "out2"}, "bp")
	require.NoError(t, err)

	assert.Equal(t, "c0b19451c5397b55cbca99f60fe148c5a697cf8ed02343d831893998ae5576ea", proof.ProofData)
	assert.Equal(t, []string{"input_count:1", "output_count:2"}, proof.PublicInputs)
	assert.Equal(t, "tx-9", proof.TransactionID)
	assert.Equal(t, SpendProof, proof.ProofType)
	assert.Equal(t, fixedTime, proof.Timestamp)
	assert.True(t, proof.Verify())
	assert.Contains(t, proof.String(), "type: SpendProof")
	assert.Contains(t, proof.String(), "2025-03-01 12:00:00 UTC")
}

func TestProofVerifyLengths(t *testing.T) {
	good := &Proof{ProofID: strings.Repeat("a", 32), ProofData: strings.Repeat("b", 64)}
	assert.True(t, good.Verify())
	assert.False(t, (&Proof{ProofID: strings.Repeat("a", 31), ProofData: good.ProofData}).Verify())
	assert.False(t, (&Proof{ProofID: good.ProofID, ProofData: strings.Repeat("b", 63)}).Verify())
}

func TestProofJSON(t *testing.T) {
	p := newTestProver("json")
	proof, err := p.CreateSpendProof("tx", nil, nil, "")
	require.NoError(t, err)

	raw, err := json.Marshal(proof)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"proof_type":"SpendProof"`)

	var decoded Proof
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, *proof, decoded)

	err = json.Unmarshal([]byte(`{"proof_type":"Bogus"}`), &decoded)
	assert.True(t, errors.Is(err, shielderr.ErrSerialization), "got %v", err)
}

func TestProofTypeNames(t *testing.T) {
	for _, pt := range []ProofType{SpendProof, OutputProof, BalanceProof, RangeProof} {
		parsed, err := ParseProofType(pt.String())
		require.NoError(t, err)
		assert.Equal(t, pt, parsed)
	}
	assert.Equal(t, "ProofType(9)", ProofType(9).String())
	_, err := json.Marshal(ProofType(9))
	assert.Error(t, err)
}

func TestSaltedRangeProof(t *testing.T) {
	p := newTestProver("range")
	a, err := p.CreateRangeProof(5, 0, 10)
	require.NoError(t, err)
	b, err := p.CreateRangeProof(5, 0, 10)
	require.NoError(t, err)
	assert.Len(t, a, crypto.HexDigestSize)
	assert.NotEqual(t, a, b)

	_, err = p.CreateRangeProof(11, 0, 10)
	assert.True(t, errors.Is(err, shielderr.ErrInvalidAmount))
}

func TestCreateBalanceProof(t *testing.T) {
	proof, err := CreateBalanceProof(nil, 1001, 1000, 1)
	require.NoError(t, err)
	assert.Equal(t, "700dd4dd25fe785feec6b54228118147fa7bd7f444ee6fb10a7aa2305ec56cfd", proof)

	for _, tc := range []struct{ in, out, fee uint64 }{
		{1001, 1000, 2},
		{1, 0, 2},
		{0, ^uint64(0), 1},
	} {
		_, err := CreateBalanceProof(nil, tc.in, tc.out, tc.fee)
		assert.True(t, errors.Is(err, shielderr.ErrInvalidTransaction), "%+v: %v", tc, err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestProverRandomFailure(t *testing.T) {
	p := NewProver(&crypto.Context{Hasher: crypto.SHA256{}, Rand: failingReader{}})
	_, err := p.Generate("tx")
	assert.True(t, errors.Is(err, shielderr.ErrZKProof), "got %v", err)
	_, err = p.CreateSpendProof("tx", nil, nil, "")
	assert.True(t, errors.Is(err, shielderr.ErrZKProof))
}
