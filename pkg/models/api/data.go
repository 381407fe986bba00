package api

type Pack struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	FileName string `json:"file_name"`
}

type Cohort struct {
	Name      string   `json:"name"`
	StartDate string   `json:"start_date,omitempty"`
	Error     string   `json:"error,omitempty"`
	Packs     []string `json:"packs"`
}

type Upload struct {
	Root    string   `json:"root"`
	Cohorts []Cohort `json:"cohorts"`
}

type Rate struct {
	From string  `json:"from"`
	To   string  `json:"to"`
	Rate float64 `json:"rate"`
}

