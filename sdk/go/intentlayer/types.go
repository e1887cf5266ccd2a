package intentlayer

import "fmt"

// MandateRequest registers a mandate. Amounts are base-unit integer strings.
// An empty Network is filled with the client's default network.
type MandateRequest struct {
	ID                 string            `json:"id,omitempty"`
	Owner              string            `json:"owner"`
	Agent              string            `json:"agent"`
	Network            string            `json:"network,omitempty"`
	MaxSpendPerIntent  string            `json:"max_spend_per_intent"`
	DailySpendLimit    string            `json:"daily_spend_limit,omitempty"`
	AllowedTokens      []string          `json:"allowed_tokens,omitempty"`
	AllowedProtocols   []string          `json:"allowed_protocols,omitempty"`
	AllowedIntentTypes []string          `json:"allowed_intent_types,omitempty"`
	RiskLevel          string            `json:"risk_level,omitempty"`
	MaxSlippageBps     *int              `json:"max_slippage_bps,omitempty"`
	ExpiresAt          int64             `json:"expires_at,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Mandate is a registered mandate as returned by the router.
type Mandate struct {
	ID                 string            `json:"id"`
	Owner              string            `json:"owner"`
	Agent              string            `json:"agent"`
	Network            string            `json:"network,omitempty"`
	MaxSpendPerIntent  string            `json:"max_spend_per_intent"`
	DailySpendLimit    string            `json:"daily_spend_limit"`
	AllowedTokens      []string          `json:"allowed_tokens,omitempty"`
	AllowedProtocols   []string          `json:"allowed_protocols,omitempty"`
	AllowedIntentTypes []string          `json:"allowed_intent_types,omitempty"`
	RiskLevel          string            `json:"risk_level"`
	MaxSlippageBps     int               `json:"max_slippage_bps"`
	ExpiresAt          int64             `json:"expires_at,omitempty"`
	Status             string            `json:"status"`
	RevokeReason       string            `json:"revoke_reason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          int64             `json:"created_at"`
	UpdatedAt          int64             `json:"updated_at"`
}

// Budget reports daily spend for a mandate.
type Budget struct {
	MandateID string `json:"mandate_id"`
	Window    string `json:"window"`
	Spent     string `json:"spent"`
	Limit     string `json:"limit"`
	Remaining string `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// IntentRequest describes a declarative action submitted by an agent.
type IntentRequest struct {
	ID                string            `json:"id,omitempty"`
	MandateID         string            `json:"mandate_id"`
	Agent             string            `json:"agent"`
	Type              string            `json:"type"`
	Protocol          string            `json:"protocol,omitempty"`
	TokenIn           string            `json:"token_in,omitempty"`
	TokenOut          string            `json:"token_out,omitempty"`
	AmountIn          string            `json:"amount_in"`
	ExpectedAmountOut string            `json:"expected_amount_out,omitempty"`
	MinAmountOut      string            `json:"min_amount_out,omitempty"`
	SlippageBps       *int              `json:"slippage_bps,omitempty"`
	Recipient         string            `json:"recipient,omitempty"`
	Deadline          int64             `json:"deadline,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Violation is a single mandate constraint an intent failed.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Call is one contract call of a compiled plan. Data and Value are hex encoded.
type Call struct {
	To          string `json:"to"`
	Data        string `json:"data"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// IntentResult carries the compiled calls and, once broadcast, transaction data.
type IntentResult struct {
	Adapter      string   `json:"adapter"`
	Network      string   `json:"network,omitempty"`
	Calls        []Call   `json:"calls"`
	SlippageBps  int      `json:"slippage_bps"`
	MinAmountOut string   `json:"min_amount_out"`
	ChainID      string   `json:"chain_id,omitempty"`
	From         string   `json:"from,omitempty"`
	TxHashes     []string `json:"tx_hashes,omitempty"`
	BlockNumber  uint64   `json:"block_number,omitempty"`
	GasUsed      uint64   `json:"gas_used,omitempty"`
	DryRun       bool     `json:"dry_run"`
}

// IntentReceipt is the router's view of a submitted intent.
type IntentReceipt struct {
	ID         string        `json:"id"`
	MandateID  string        `json:"mandate_id"`
	Agent      string        `json:"agent"`
	Type       string        `json:"type"`
	Status     string        `json:"status"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"max_retries"`
	Terminal   bool          `json:"terminal"`
	LastError  string        `json:"last_error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Violations []Violation   `json:"violations,omitempty"`
	Result     *IntentResult `json:"result,omitempty"`
	CreatedAt  int64         `json:"created_at"`
	UpdatedAt  int64         `json:"updated_at"`
}

// Final reports whether the intent will not change state again.
func (r IntentReceipt) Final() bool {
	switch r.Status {
	case "compiled", "submitted", "confirmed", "rejected":
		return true
	case "failed":
		return r.Terminal
	default:
		return false
	}
}

// Plan is the dry-run compilation of an intent.
type Plan struct {
	MandateID    string `json:"mandate_id"`
	Agent        string `json:"agent"`
	Adapter      string `json:"adapter"`
	Network      string `json:"network,omitempty"`
	Type         string `json:"type"`
	Calls        []Call `json:"calls"`
	SlippageBps  int    `json:"slippage_bps"`
	MinAmountOut string `json:"min_amount_out"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Violations []Violation `json:"violations,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("intentlayer api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("intentlayer api error (%d): %s", e.StatusCode, e.Message)
}
