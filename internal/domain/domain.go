package domain

// Logical names of the record types held by the store.
const (
	EntityAccount     = "account"
	EntityOpportunity = "opportunity"
	EntityQuote       = "quote"
	EntityContract    = "contract"
)

const (
	OpportunityOpen = "open"
	OpportunityWon  = "won"
	OpportunityLost = "lost"
)

const (
	ContractDraft    = "draft"
	ContractInvoiced = "invoiced"
	ContractActive   = "active"
	ContractOnHold   = "on_hold"
	ContractCanceled = "canceled"
	ContractExpired  = "expired"
)

// EntityReference identifies a record without carrying any of its fields.
type EntityReference struct {
	LogicalName string `json:"logical_name"`
	ID          string `json:"id"`
}

// Entity is a materialized record: identity plus the attributes that were read.
type Entity struct {
	LogicalName string         `json:"logical_name"`
	ID          string         `json:"id"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Reference returns the identity-only view of the record.
func (e Entity) Reference() EntityReference {
	return EntityReference{LogicalName: e.LogicalName, ID: e.ID}
}

// String returns the attribute as a string, or "" when absent or null.
func (e Entity) String(attr string) string {
	v, ok := e.Attributes[attr]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Opportunity struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AccountID *string `json:"account_id,omitempty"`
	Status    string  `json:"status" enum:"open,won,lost"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type Quote struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	OpportunityID string `json:"opportunity_id"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Contract struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	State     string `json:"state" enum:"draft,invoiced,active,on_hold,canceled,expired"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
