package prompts

import "walktour/pkg/model"

// IntroData feeds script/intro.tmpl.
type IntroData struct {
	Tour     *model.Tour
	Language string
	Words    int
	Area     model.AreaContext
}

// StopData feeds script/stop.tmpl.
type StopData struct {
	Tour     *model.Tour
	Stop     model.Stop
	Index    int
	Total    int
	Next     *model.Stop
	Language string
	Words    int
	Area     model.AreaContext
}

// AreaData feeds the area/*.tmpl summary prompts.
type AreaData struct {
	Country      string
	City         string
	Neighborhood string
	Language     string
	Reference    string // Encyclopedia extract, may be empty
}
