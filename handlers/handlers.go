package handlers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"pos-ledger/breaker"
	"pos-ledger/consensus"
	"pos-ledger/logger"
	"pos-ledger/mempool"
	"pos-ledger/metrics"
	"pos-ledger/models"
	"pos-ledger/repository"
	"pos-ledger/signer"
	"pos-ledger/staking"
	"pos-ledger/statesync"
	"pos-ledger/txvalidator"
)

// PhaseReader reports the consensus phase.
type PhaseReader interface {
	Phase() consensus.Phase
}

// Deps are the ledger components the operator API reads and drives.
// Engine, Keyring and Metrics may be nil.
type Deps struct {
	Repo    repository.LedgerRepositoryInterface
	Staking *staking.Ledger
	Mempool *mempool.Mempool
	Syncer  *statesync.Syncer
	Breaker *breaker.Breaker
	Engine  PhaseReader
	Keyring *signer.Keyring
	Metrics *metrics.Metrics
}

// Handler contains the HTTP handlers for the operator API
type Handler struct {
	Deps
}

// NewHandler creates and returns a new Handler instance
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// SubmitTransaction handles POST requests adding a transaction to the mempool
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx models.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		logger.Logger.Error("Failed to decode transaction", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if tx.Amount != nil && tx.Amount.Gt(models.MaxAmount) {
		writeError(w, http.StatusBadRequest, models.ErrAmountOverflow.Error())
		return
	}

	err := h.Breaker.Guard(func() error { return h.Mempool.Add(&tx) })
	switch {
	case err == nil:
	case errors.Is(err, breaker.ErrHalted), errors.Is(err, mempool.ErrFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, mempool.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
		return
	default:
		logger.Logger.Info("Transaction rejected", zap.String("reason", txvalidator.Code(err)), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Transaction accepted",
		"hash":    tx.Hash(),
	})
}

// GetAccount handles GET requests for an account balance and nonce
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	acc, err := h.Repo.GetAccount(address)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to get account", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GetBlock handles GET requests for the block at a height
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid height")
		return
	}
	block, err := h.Repo.GetBlockAt(height)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to get block", zap.Uint64("height", height), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hash":  block.Hash(),
		"block": block,
	})
}

// GetChainHead handles GET requests for the last committed block
func (h *Handler) GetChainHead(w http.ResponseWriter, r *http.Request) {
	head, err := h.Repo.GetHead()
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chain not initialised")
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to get chain head", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"height":  head.Height,
		"hash":    head.Hash,
		"halted":  h.Breaker.Tripped(),
		"pending": h.Mempool.Len(),
	}
	if h.Engine != nil {
		resp["phase"] = h.Engine.Phase().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type stakeRequest struct {
	Amount    *uint256.Int `json:"amount"`
	Address   string       `json:"address,omitempty"`
	Mobile    *bool        `json:"mobile,omitempty"`
	PublicKey string       `json:"public_key,omitempty"` // hex
}

// Stake handles POST requests adding stake to a validator
func (h *Handler) Stake(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode stake request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Amount != nil && req.Amount.Gt(models.MaxAmount) {
		writeError(w, http.StatusBadRequest, models.ErrAmountOverflow.Error())
		return
	}

	var opts []staking.Option
	if req.Address != "" {
		opts = append(opts, staking.WithAddress(req.Address))
	}
	if req.Mobile != nil {
		opts = append(opts, staking.WithMobile(*req.Mobile))
	}
	switch {
	case req.PublicKey != "":
		pub, err := hex.DecodeString(req.PublicKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, "public_key must be hex")
			return
		}
		opts = append(opts, staking.WithPublicKey(pub))
	case h.Keyring != nil:
		if local, ok := h.Keyring.Get(id); ok {
			if v, exists := h.Staking.Validator(id); !exists || len(v.PublicKey) == 0 {
				opts = append(opts, staking.WithPublicKey(local.PublicKey()))
			}
		}
	}

	err := h.Staking.Stake(id, req.Amount, opts...)
	switch {
	case err == nil:
	case errors.Is(err, breaker.ErrHalted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, staking.ErrBelowMinimumStake), errors.Is(err, staking.ErrUnknownValidator),
		errors.Is(err, models.ErrAmountOverflow):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		logger.Logger.Error("Failed to stake", zap.String("validator_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	v, _ := h.Staking.Validator(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Stake added",
		"validator":    v,
		"total_staked": h.Staking.TotalStaked(),
	})
}

// Unstake handles POST requests withdrawing stake from a validator
func (h *Handler) Unstake(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode unstake request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	withdrawn, err := h.Staking.Unstake(id, req.Amount)
	switch {
	case err == nil:
	case errors.Is(err, breaker.ErrHalted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, staking.ErrUnknownValidator):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, staking.ErrInsufficientStake), errors.Is(err, staking.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		logger.Logger.Error("Failed to unstake", zap.String("validator_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, active := h.Staking.Validator(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Stake withdrawn",
		"withdrawn":    withdrawn,
		"active":       active,
		"total_staked": h.Staking.TotalStaked(),
	})
}

type delegateRequest struct {
	Delegator string       `json:"delegator"`
	Amount    *uint256.Int `json:"amount"`
}

// Delegate handles POST requests delegating stake to a validator
func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode delegate request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Amount != nil && req.Amount.Gt(models.MaxAmount) {
		writeError(w, http.StatusBadRequest, models.ErrAmountOverflow.Error())
		return
	}

	err := h.Staking.Delegate(req.Delegator, id, req.Amount)
	switch {
	case err == nil:
	case errors.Is(err, breaker.ErrHalted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, staking.ErrUnknownValidator):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, staking.ErrInvalidAmount), errors.Is(err, staking.ErrNoDelegator),
		errors.Is(err, models.ErrAmountOverflow):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		logger.Logger.Error("Failed to delegate", zap.String("validator_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	v, _ := h.Staking.Validator(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Stake delegated",
		"validator":    v,
		"total_staked": h.Staking.TotalStaked(),
	})
}

// GetValidators handles GET requests listing the validator set
func (h *Handler) GetValidators(w http.ResponseWriter, r *http.Request) {
	s := h.Staking.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"validators":    s.Validators,
		"total_staked":  s.TotalStaked,
		"validator_apy": h.Staking.ValidatorAPY(),
		"mobile_apy":    h.Staking.MobileAPY(),
		"statistics":    h.Staking.Statistics(),
	})
}

// GetReward handles GET requests for a validator's reward at its current stake
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, ok := h.Staking.Validator(id)
	if !ok {
		writeError(w, http.StatusNotFound, staking.ErrUnknownValidator.Error())
		return
	}
	apy := h.Staking.ValidatorAPY()
	if v.Mobile {
		apy = h.Staking.MobileAPY()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"validator_id": id,
		"stake":        v.Stake,
		"mobile":       v.Mobile,
		"apy":          apy,
		"reward":       h.Staking.Reward(v.Stake, v.Mobile),
	})
}

// GetLatestSnapshot handles GET requests for the latest state snapshot
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Syncer.Latest()
	if errors.Is(err, statesync.ErrNoSnapshot) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// EmergencyStop handles POST requests tripping the circuit breaker. There is
// no endpoint to undo it; the node must be restarted.
func (h *Handler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.Breaker.EmergencyStop()
	h.Metrics.SetHalted(true)
	logger.Logger.Warn("Emergency stop requested", zap.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Ledger halted",
		"halted":  h.Breaker.Tripped(),
	})
}
