package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	apperrors "github.com/trustchain-labs/trustchain/internal/errors"
)

//go:embed teal/contribution_approval.teal
var approvalSource []byte

//go:embed teal/contribution_clear.teal
var clearSource []byte

// Number of rounds to wait for transaction confirmation
const confirmationRounds = 4

// Client submits signed operations to the enforcement application on an
// Algorand node and reads its state back. Without a creator mnemonic the
// client runs disabled and every call degrades gracefully: projects stay in
// draft and finalize works off-ledger only.
type Client struct {
	algod           *algod.Client
	creator         crypto.Account
	reputationAsset uint64
	enabled         bool
}

// NewClient creates a ledger client. An empty node address or mnemonic
// yields a disabled client rather than an error.
func NewClient(nodeAddress, nodeToken, creatorMnemonic string, reputationAsset uint64) (*Client, error) {
	if nodeAddress == "" || creatorMnemonic == "" {
		slog.Warn("Ledger not configured, running in degraded mode (off-ledger only)")
		return &Client{enabled: false}, nil
	}

	ac, err := algod.MakeClient(nodeAddress, nodeToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create algod client: %w", err)
	}

	sk, err := mnemonic.ToPrivateKey(creatorMnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to derive creator key: %w", err)
	}
	account, err := crypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, fmt.Errorf("failed to derive creator account: %w", err)
	}

	slog.Info("Ledger client initialized",
		"node", nodeAddress,
		"creator", account.Address.String(),
		"reputation_asset", reputationAsset)

	return &Client{
		algod:           ac,
		creator:         account,
		reputationAsset: reputationAsset,
		enabled:         true,
	}, nil
}

// IsEnabled returns whether the ledger capability is configured
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// CreatorAddress returns the creator account address, or "" when disabled
func (c *Client) CreatorAddress() string {
	if !c.enabled {
		return ""
	}
	return c.creator.Address.String()
}

// Fingerprint folds an off-ledger project id (a uuid) into the 64-bit value
// the application stores, so a read-back can be matched to its project.
func Fingerprint(projectID string) uint64 {
	digest := sha256.Sum256([]byte(projectID))
	return binary.BigEndian.Uint64(digest[:8])
}

func uintArg(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// Deploy compiles and creates the enforcement application for a project.
// Returns the application id and its escrow address.
func (c *Client) Deploy(ctx context.Context, params InitParams) (uint64, string, error) {
	if !c.enabled {
		return 0, "", apperrors.NewCollaboratorError("ledger", fmt.Errorf("ledger client disabled"))
	}

	approval, err := c.compile(ctx, approvalSource)
	if err != nil {
		return 0, "", err
	}
	clear, err := c.compile(ctx, clearSource)
	if err != nil {
		return 0, "", err
	}

	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return 0, "", apperrors.NewCollaboratorError("ledger", err)
	}

	appArgs := [][]byte{
		uintArg(Fingerprint(params.ProjectID)),
		uintArg(uint64(params.DeadlineContribution.Unix())),
		uintArg(uint64(params.DeadlineVoting.Unix())),
		uintArg(params.WeightCode),
		uintArg(params.WeightTime),
		uintArg(params.WeightVote),
		uintArg(params.ReputationAsset),
	}

	globalSchema := types.StateSchema{NumUint: 10, NumByteSlice: 1}
	localSchema := types.StateSchema{NumUint: 3}

	tx, err := transaction.MakeApplicationCreateTx(
		false, approval, clear, globalSchema, localSchema,
		appArgs, nil, nil, nil,
		sp, c.creator.Address, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return 0, "", fmt.Errorf("failed to build create transaction: %w", err)
	}

	confirmed, err := c.signSendWait(ctx, c.creator.PrivateKey, tx)
	if err != nil {
		return 0, "", err
	}

	appID := confirmed.ApplicationIndex
	appAddr := crypto.GetApplicationAddress(appID).String()

	slog.Info("Enforcement application deployed",
		"project_id", params.ProjectID,
		"app_id", appID,
		"app_address", appAddr)

	return appID, appAddr, nil
}

// OptIn registers a member account with the application. The member signs
// with their own key; the backend never holds it beyond this call.
func (c *Client) OptIn(ctx context.Context, appID uint64, memberKey ed25519.PrivateKey) (string, error) {
	if !c.enabled {
		return "", apperrors.NewCollaboratorError("ledger", fmt.Errorf("ledger client disabled"))
	}

	account, err := crypto.AccountFromPrivateKey(memberKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive member account: %w", err)
	}

	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return "", apperrors.NewCollaboratorError("ledger", err)
	}

	tx, err := transaction.MakeApplicationOptInTx(
		appID, nil, nil, nil, nil,
		sp, account.Address, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("failed to build opt-in transaction: %w", err)
	}

	confirmed, err := c.signSendWait(ctx, memberKey, tx)
	if err != nil {
		return "", err
	}
	return confirmed.TxID, nil
}

// SubmitVote submits a voter-signed vote call. Duplicate senders are
// rejected by the application itself.
func (c *Client) SubmitVote(ctx context.Context, appID uint64, voterKey ed25519.PrivateKey, score uint64) (string, error) {
	if !c.enabled {
		return "", apperrors.NewCollaboratorError("ledger", fmt.Errorf("ledger client disabled"))
	}

	account, err := crypto.AccountFromPrivateKey(voterKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive voter account: %w", err)
	}

	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return "", apperrors.NewCollaboratorError("ledger", err)
	}

	tx, err := transaction.MakeApplicationNoOpTx(
		appID, [][]byte{[]byte("vote"), uintArg(score)}, nil, nil, nil,
		sp, account.Address, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("failed to build vote transaction: %w", err)
	}

	confirmed, err := c.signSendWait(ctx, voterKey, tx)
	if err != nil {
		return "", err
	}
	return confirmed.TxID, nil
}

// RecordScoreHash anchors one member's score commitment on the ledger.
func (c *Client) RecordScoreHash(ctx context.Context, appID uint64, scoreHash string) (string, error) {
	if !c.enabled {
		return "", apperrors.NewCollaboratorError("ledger", fmt.Errorf("ledger client disabled"))
	}

	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return "", apperrors.NewCollaboratorError("ledger", err)
	}

	tx, err := transaction.MakeApplicationNoOpTx(
		appID, [][]byte{[]byte("score_hash"), []byte(scoreHash)}, nil, nil, nil,
		sp, c.creator.Address, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("failed to build score-hash transaction: %w", err)
	}

	confirmed, err := c.signSendWait(ctx, c.creator.PrivateKey, tx)
	if err != nil {
		return "", err
	}
	return confirmed.TxID, nil
}

// Finalize calls the application's finalize transition. The application
// checks the deadline and creator on its own; a rejection there surfaces as
// a failed transaction.
func (c *Client) Finalize(ctx context.Context, appID uint64) (string, error) {
	if !c.enabled {
		return "", apperrors.NewCollaboratorError("ledger", fmt.Errorf("ledger client disabled"))
	}

	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return "", apperrors.NewCollaboratorError("ledger", err)
	}

	tx, err := transaction.MakeApplicationNoOpTx(
		appID, [][]byte{[]byte("finalize")}, nil, nil, nil,
		sp, c.creator.Address, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("failed to build finalize transaction: %w", err)
	}

	confirmed, err := c.signSendWait(ctx, c.creator.PrivateKey, tx)
	if err != nil {
		return "", err
	}
	return confirmed.TxID, nil
}

// MintReputation records the award in the application and transfers the
// reputation asset in one atomic group: either both land or neither does.
func (c *Client) MintReputation(ctx context.Context, appID uint64, recipient string, amount uint64) (string, error) {
	if !c.enabled {
		return "", apperrors.NewCollaboratorError("ledger", fmt.Errorf("ledger client disabled"))
	}

	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return "", apperrors.NewCollaboratorError("ledger", err)
	}

	record, err := transaction.MakeApplicationNoOpTx(
		appID, [][]byte{[]byte("mint_rep"), uintArg(amount)}, []string{recipient}, nil, nil,
		sp, c.creator.Address, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("failed to build mint transaction: %w", err)
	}

	xfer, err := transaction.MakeAssetTransferTxn(
		c.creator.Address.String(), recipient, amount, nil, sp, "", c.reputationAsset,
	)
	if err != nil {
		return "", fmt.Errorf("failed to build asset transfer: %w", err)
	}

	group, err := transaction.AssignGroupID([]types.Transaction{record, xfer}, "")
	if err != nil {
		return "", fmt.Errorf("failed to assign group id: %w", err)
	}

	var stxGroup []byte
	var txid string
	for _, tx := range group {
		id, stx, err := crypto.SignTransaction(c.creator.PrivateKey, tx)
		if err != nil {
			return "", fmt.Errorf("failed to sign group transaction: %w", err)
		}
		if txid == "" {
			txid = id
		}
		stxGroup = append(stxGroup, stx...)
	}

	if _, err := c.algod.SendRawTransaction(stxGroup).Do(ctx); err != nil {
		return "", apperrors.NewCollaboratorError("ledger", err)
	}
	if _, err := transaction.WaitForConfirmation(c.algod, txid, confirmationRounds, ctx); err != nil {
		return "", apperrors.NewCollaboratorTimeout("ledger", err)
	}

	slog.Info("Reputation minted on ledger",
		"app_id", appID,
		"recipient", recipient,
		"amount", amount)

	return txid, nil
}

// OnChainState is the decoded application global state used for independent
// verification of a published result.
type OnChainState struct {
	ProjectFingerprint   uint64 `json:"project_fingerprint"`
	DeadlineContribution int64  `json:"deadline_contribution"`
	DeadlineVoting       int64  `json:"deadline_voting"`
	WeightCode           uint64 `json:"weight_code"`
	WeightTime           uint64 `json:"weight_time"`
	WeightVote           uint64 `json:"weight_vote"`
	ReputationAsset      uint64 `json:"reputation_asset"`
	Creator              string `json:"creator"`
	MemberCount          uint64 `json:"member_count"`
	Finalized            bool   `json:"finalized"`
}

// ReadState reads the application's global state back from the node.
func (c *Client) ReadState(ctx context.Context, appID uint64) (*OnChainState, error) {
	if !c.enabled {
		return nil, apperrors.NewCollaboratorError("ledger", fmt.Errorf("ledger client disabled"))
	}

	app, err := c.algod.GetApplicationByID(appID).Do(ctx)
	if err != nil {
		return nil, apperrors.NewCollaboratorError("ledger", err)
	}

	state := &OnChainState{}
	for _, kv := range app.Params.GlobalState {
		key, err := base64.StdEncoding.DecodeString(kv.Key)
		if err != nil {
			continue
		}
		switch string(key) {
		case "pid":
			state.ProjectFingerprint = kv.Value.Uint
		case "d_contrib":
			state.DeadlineContribution = int64(kv.Value.Uint)
		case "d_vote":
			state.DeadlineVoting = int64(kv.Value.Uint)
		case "w_code":
			state.WeightCode = kv.Value.Uint
		case "w_time":
			state.WeightTime = kv.Value.Uint
		case "w_vote":
			state.WeightVote = kv.Value.Uint
		case "rep_asa":
			state.ReputationAsset = kv.Value.Uint
		case "mcount":
			state.MemberCount = kv.Value.Uint
		case "final":
			state.Finalized = kv.Value.Uint == 1
		case "creator":
			raw, err := base64.StdEncoding.DecodeString(kv.Value.Bytes)
			if err == nil && len(raw) == 32 {
				var addr types.Address
				copy(addr[:], raw)
				state.Creator = addr.String()
			}
		}
	}
	return state, nil
}

// compile sends TEAL source to the node's compiler endpoint
func (c *Client) compile(ctx context.Context, source []byte) ([]byte, error) {
	result, err := c.algod.TealCompile(source).Do(ctx)
	if err != nil {
		return nil, apperrors.NewCollaboratorError("ledger", err)
	}
	program, err := base64.StdEncoding.DecodeString(result.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode compiled program: %w", err)
	}
	return program, nil
}

// signSendWait signs a transaction, submits it and blocks until the network
// confirms it. Failures map to collaborator errors: recoverable, retried by
// the caller only after checking whether the operation already landed.
func (c *Client) signSendWait(ctx context.Context, sk ed25519.PrivateKey, tx types.Transaction) (SignSendResult, error) {
	txid, stx, err := crypto.SignTransaction(sk, tx)
	if err != nil {
		return SignSendResult{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if _, err := c.algod.SendRawTransaction(stx).Do(ctx); err != nil {
		return SignSendResult{}, apperrors.NewCollaboratorError("ledger", err)
	}

	confirmed, err := transaction.WaitForConfirmation(c.algod, txid, confirmationRounds, ctx)
	if err != nil {
		return SignSendResult{}, apperrors.NewCollaboratorTimeout("ledger", err)
	}

	return SignSendResult{
		TxID:             txid,
		ApplicationIndex: confirmed.ApplicationIndex,
	}, nil
}

// SignSendResult carries the confirmation details a caller needs
type SignSendResult struct {
	TxID             string
	ApplicationIndex uint64
}
