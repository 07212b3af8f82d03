package webhook

import "time"

// Source identifies who sent a delivery
type Source string

const (
	SourceGitHub  Source = "github"
	SourceStripe  Source = "stripe"
	SourceGeneric Source = "generic"
)

// Event is a classified webhook delivery
type Event struct {
	Source      Source
	Type        string // e.g. "push", "invoice.paid"
	Description string
	Metadata    map[string]any
	ReceivedAt  time.Time
}

// Response is the acknowledgement body
type Response struct {
	Received bool   `json:"received"`
	Source   Source `json:"source"`
	ID       string `json:"id"`
}

// SourceStats counts deliveries for one source
type SourceStats struct {
	Source              Source  `json:"source"`
	TotalRequests       int64   `json:"totalRequests"`
	SuccessCount        int64   `json:"successCount"`
	FailureCount        int64   `json:"failureCount"`
	AverageResponseTime float64 `json:"averageResponseTime"` // milliseconds
	LastRequestAt       int64   `json:"lastRequestAt,omitempty"`
}

type gitHubPayload struct {
	Action      string            `json:"action"`
	Ref         string            `json:"ref"`
	Commits     []gitHubCommit    `json:"commits"`
	Repository  *gitHubRepository `json:"repository"`
	Sender      *gitHubUser       `json:"sender"`
	PullRequest *gitHubItem       `json:"pull_request"`
	Issue       *gitHubItem       `json:"issue"`
	Release     *gitHubRelease    `json:"release"`
	WorkflowRun *gitHubWorkflow   `json:"workflow_run"`
}

type gitHubItem struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	HTMLURL string `json:"html_url"`
}

type gitHubRepository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

type gitHubUser struct {
	Login string `json:"login"`
}

type gitHubCommit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type gitHubRelease struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
}

type gitHubWorkflow struct {
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"`
	HTMLURL    string `json:"html_url"`
}

type stripeEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object struct {
			ID            string `json:"id"`
			Amount        int64  `json:"amount"`
			AmountPaid    int64  `json:"amount_paid"`
			Currency      string `json:"currency"`
			CustomerEmail string `json:"customer_email"`
			Customer      any    `json:"customer"`
		} `json:"object"`
	} `json:"data"`
}
