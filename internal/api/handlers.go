package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"shielded/internal/commitment"
	"shielded/internal/shielderr"
	"shielded/internal/transaction"
	"shielded/internal/zkproof"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createTransactionRequest struct {
	From     string `json:"from" binding:"required"`
	To       string `json:"to" binding:"required"`
	Amount   uint64 `json:"amount"`
	Shielded bool   `json:"shielded"`
}


type listTransactionsResponse struct {
	Transactions []*transaction.ShieldedTransaction `json:"transactions"`
	Count        int                                `json:"count"`
}

type proofResponse struct {
	TransactionID string `json:"transaction_id"`
	Proof         string `json:"proof"`
	Valid         bool   `json:"valid"`
}

type merkleVerifyRequest struct {
	LeafData string   `json:"leaf_data" binding:"required"`
	Proof    []string `json:"proof"`
	Index    *int     `json:"index" binding:"required"`
}

type validResponse struct {
	Valid bool `json:"valid"`
}

type createCommitmentRequest struct {
	Amount uint64 `json:"amount"`
}

type createCommitmentResponse struct {
	Commitment     commitment.Commitment `json:"commitment"`
	KnowledgeProof string                `json:"knowledge_proof"`
	KnowledgeValid bool                  `json:"knowledge_valid"`
}

type openCommitmentRequest struct {
	CommitmentHash string `json:"commitment_hash" binding:"required"`
	Nonce          string `json:"nonce" binding:"required"`
	Amount         uint64 `json:"amount"`
}

type rangeProofRequest struct {
	Amount uint64  `json:"amount"`
	Min    *uint64 `json:"min"`
	Max    *uint64 `json:"max"`
	Salted bool    `json:"salted"`
}

type rangeProofResponse struct {
	Proof string `json:"proof"`
	Min   uint64 `json:"min"`
	Max   uint64 `json:"max"`
}

type balanceProofRequest struct {
	Input  uint64 `json:"input"`
	Output uint64 `json:"output"`
	Fee    uint64 `json:"fee"`
}

type balanceProofResponse struct {
	Proof string `json:"proof"`
}

func (s *Server) handleCreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	receipt, err := s.ledger.Submit(c.Request.Context(), req.From, req.To, req.Amount, req.Shielded)
	if err != nil {
		writeError(c, err)
		return
	}
	if s.recorder != nil {
		s.recorder.TransactionCreated(receipt.Transaction.Type.String())
	}
	c.JSON(http.StatusCreated, receipt)
}

func (s *Server) handleListTransactions(c *gin.Context) {
	txs, err := s.ledger.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if txs == nil {
		txs = []*transaction.ShieldedTransaction{}
	}
	c.JSON(http.StatusOK, listTransactionsResponse{Transactions: txs, Count: len(txs)})
}

func (s *Server) handleGetTransaction(c *gin.Context) {
	tx, err := s.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) handleVerifyTransaction(c *gin.Context) {
	v, err := s.ledger.VerifyTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// handleGenerateProof returns a compact proof for any id, or the structured spend proof
// of a recorded shielded transaction when ?type=spend.
func (s *Server) handleGenerateProof(c *gin.Context) {
	id := c.Param("id")
	if c.Query("type") == "spend" {
		proof, err := s.ledger.SpendProof(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, proof)
		return
	}
	proof, err := s.ledger.GenerateProof(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proofResponse{TransactionID: id, Proof: proof, Valid: zkproof.VerifyCompact(proof)})
}

func (s *Server) handleMerkleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.ledger.Snapshot())
}

func (s *Server) handleMerkleProof(c *gin.Context) {
	p, err := s.ledger.InclusionProof(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleMerkleVerify(c *gin.Context) {
	var req merkleVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	c.JSON(http.StatusOK, validResponse{Valid: s.ledger.VerifyInclusion(req.LeafData, req.Proof, *req.Index)})
}

func (s *Server) handleCreateCommitment(c *gin.Context) {
	var req createCommitmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	kp, err := s.commitments.NewKnowledgeProof(req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createCommitmentResponse{
		Commitment:     commitment.Commitment{CommitmentHash: kp.CommitmentHash, Nonce: kp.Nonce},
		KnowledgeProof: kp.ProofHash,
		KnowledgeValid: s.commitments.VerifyKnowledge(kp.CommitmentHash, kp.ProofHash),
	})
}

func (s *Server) handleOpenCommitment(c *gin.Context) {
	var req openCommitmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	ok, err := s.commitments.OpenCommitment(commitment.Commitment{CommitmentHash: req.CommitmentHash}, req.Amount, req.Nonce)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, validResponse{Valid: ok})
}

func (s *Server) handleRangeProof(c *gin.Context) {
	var req rangeProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	lo, hi := s.rangeMin, s.rangeMax
	if req.Min != nil {
		lo = *req.Min
	}
	if req.Max != nil {
		hi = *req.Max
	}

	var (
		proof string
		err   error
	)
	if req.Salted {
		proof, err = s.prover.CreateRangeProof(req.Amount, lo, hi)
	} else {
		proof, err = s.commitments.CreateRangeProof(req.Amount, lo, hi)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rangeProofResponse{Proof: proof, Min: lo, Max: hi})
}

func (s *Server) handleBalanceProof(c *gin.Context) {
	var req balanceProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	proof, err := s.ledger.Builder().CreateBalanceProof(req.Input, req.Output, req.Fee)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceProofResponse{Proof: proof})
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, shielderr.ErrTransactionNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, shielderr.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, shielderr.ErrInvalidTransaction):
		status, code = http.StatusBadRequest, "INVALID_TRANSACTION"
	case errors.Is(err, shielderr.ErrCrypto):
		status, code = http.StatusBadRequest, "INVALID_CRYPTO_INPUT"
	case errors.Is(err, shielderr.ErrMerkleTree):
		status, code = http.StatusBadRequest, "MERKLE_TREE"
	case errors.Is(err, shielderr.ErrSerialization):
		status, code = http.StatusBadRequest, "SERIALIZATION"
	case errors.Is(err, shielderr.ErrStorage):
		status, code = http.StatusInternalServerError, "STORAGE"
	case errors.Is(err, shielderr.ErrZKProof):
		status, code = http.StatusInternalServerError, "ZK_PROOF"
	case errors.Is(err, shielderr.ErrRandomness):
		status, code = http.StatusInternalServerError, "RANDOMNESS"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
