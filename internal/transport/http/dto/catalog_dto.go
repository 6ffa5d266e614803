package dto

type CourseResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	CoverURL    string  `json:"cover_url,omitempty"`
}

type CourseListResponse struct {
	Courses []CourseResponse `json:"courses"`
}
