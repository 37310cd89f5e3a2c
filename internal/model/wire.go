package model

// SearchResult is one organic result returned by the web search provider.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Query   string `json:"query,omitempty"`
	Angle   string `json:"angle,omitempty"`
	Page    int    `json:"page,omitempty"`
}

// PageData is the cleaned text content of one fetched page.
type PageData struct {
	URL          string   `json:"url"`
	Title        string   `json:"title,omitempty"`
	Text         string   `json:"text,omitempty"`
	PlatformURLs []string `json:"platform_urls,omitempty"`
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
}

// ChannelInfo is the verifier's view of one platform channel page.
type ChannelInfo struct {
	URL               string `json:"url"`
	Exists            bool   `json:"exists"`
	Name              string `json:"name,omitempty"`
	SubscribersText   string `json:"subscribers_text,omitempty"`
	Subscribers       int    `json:"subscribers,omitempty"`
	SubscriberInRange bool   `json:"subscriber_in_range"`
	LastUploadText    string `json:"last_upload_text,omitempty"`
	UploadRecent      bool   `json:"upload_recent"`
	Description       string `json:"description,omitempty"`
	Error             string `json:"error,omitempty"`
}
