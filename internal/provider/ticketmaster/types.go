package ticketmaster

// SearchResponse はevents.jsonのレスポンス。
type SearchResponse struct {
	Embedded *struct {
		Events []Event `json:"events"`
	} `json:"_embedded,omitempty"`
	Page PageInfo `json:"page"`
}

// PageInfo はページング情報。
type PageInfo struct {
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
	Number        int `json:"number"`
}

// Event はDiscovery APIのイベント。使用するフィールドのみ定義する。
type Event struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url,omitempty"`
	Dates struct {
		Start struct {
			LocalDate string `json:"localDate"`
			LocalTime string `json:"localTime,omitempty"`
		} `json:"start"`
	} `json:"dates"`
	Images          []Image          `json:"images"`
	PriceRanges     []PriceRange     `json:"priceRanges,omitempty"`
	Classifications []Classification `json:"classifications,omitempty"`
	Embedded        *struct {
		Venues []Venue `json:"venues"`
	} `json:"_embedded,omitempty"`
}

type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type PriceRange struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency"`
}

type Classification struct {
	Segment *struct {
		Name string `json:"name"`
	} `json:"segment,omitempty"`
}

type namedField struct {
	Name string `json:"name"`
}

type Venue struct {
	Name     string      `json:"name"`
	City     *namedField `json:"city,omitempty"`
	State    *namedField `json:"state,omitempty"`
	Country  *namedField `json:"country,omitempty"`
	Location *struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"location,omitempty"`
}
