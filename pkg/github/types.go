package github

// Repo is a repository card
type Repo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Private     bool   `json:"private"`
	Language    string `json:"language"`
	Stars       int    `json:"stars"`
	Forks       int    `json:"forks"`
	UpdatedAt   string `json:"updated_at"`
	CreatedAt   string `json:"created_at"`
}

// Push is one PushEvent with its commits
type Push struct {
	ID        string   `json:"id"`
	Repo      string   `json:"repo"`
	Ref       string   `json:"ref"`
	Commits   []Commit `json:"commits"`
	CreatedAt string   `json:"created_at"`
}

// Commit is a pushed commit with a shortened sha
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
	URL     string `json:"url"`
}

// Issue is an open issue card
type Issue struct {
	ID        int64    `json:"id"`
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	URL       string   `json:"url"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
	Repo      string   `json:"repo"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// PullRequest is an open pull request card
type PullRequest struct {
	ID        int64    `json:"id"`
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	URL       string   `json:"url"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Repo      string   `json:"repo"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

type apiRepo struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	Description     string `json:"description"`
	HTMLURL         string `json:"html_url"`
	Private         bool   `json:"private"`
	Language        string `json:"language"`
	StargazersCount int    `json:"stargazers_count"`
	ForksCount      int    `json:"forks_count"`
	UpdatedAt       string `json:"updated_at"`
	CreatedAt       string `json:"created_at"`
}

type apiEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload struct {
		Ref     string `json:"ref"`
		Commits []struct {
			SHA     string `json:"sha"`
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commits"`
	} `json:"payload"`
	CreatedAt string `json:"created_at"`
}

type apiIssue struct {
	ID            int64  `json:"id"`
	Number        int    `json:"number"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	HTMLURL       string `json:"html_url"`
	State         string `json:"state"`
	RepositoryURL string `json:"repository_url"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	Labels        []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

func (a apiIssue) toIssue() Issue {
	labels := make([]string, 0, len(a.Labels))
	for _, l := range a.Labels {
		labels = append(labels, l.Name)
	}
	assignees := make([]string, 0, len(a.Assignees))
	for _, as := range a.Assignees {
		assignees = append(assignees, as.Login)
	}
	return Issue{
		ID:        a.ID,
		Number:    a.Number,
		Title:     a.Title,
		Body:      preview(a.Body),
		URL:       a.HTMLURL,
		State:     a.State,
		Labels:    labels,
		Assignees: assignees,
		Repo:      repoName(a.RepositoryURL),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
