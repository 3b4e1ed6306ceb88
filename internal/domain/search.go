package domain

type SearchRequest struct {
	SearchQuery string `json:"search_query" validate:"required"`
}

type SearchResponse struct {
	Response string `json:"response"`
}

type SearchFilter struct {
	OwnerID string
}

type SubmitCodeRequest struct {
	Key  string `json:"key" validate:"required"`
	Code string `json:"code" validate:"required,numeric,min=4,max=8"`
}

type CodeStatusResponse struct {
	Code *string `json:"code"`
}
