package mcp

// ValidateInput defines the input for the cellsim_validate tool.
type ValidateInput struct {
	Scenario string `json:"scenario" jsonschema:"Path to a scenario YAML file, relative to the server root"`
}

// ValidateOutput defines the output for the cellsim_validate tool.
type ValidateOutput struct {
	Valid    bool     `json:"valid" jsonschema:"Whether the scenario parsed and built"`
	Name     string   `json:"name,omitempty" jsonschema:"Scenario name"`
	Entities int      `json:"entities" jsonschema:"Number of registered entities, complexes included"`
	Nodes    int      `json:"nodes" jsonschema:"Number of compartment nodes"`
	Vesicles int      `json:"vesicles" jsonschema:"Number of vesicles"`
	Modules  []string `json:"modules,omitempty" jsonschema:"Module names in registration order"`
	Features []string `json:"features,omitempty" jsonschema:"Feature names"`
	Error    string   `json:"error,omitempty" jsonschema:"Why the scenario is invalid"`
}

// RunInput defines the input for the cellsim_run tool.
type RunInput struct {
	Scenario string `json:"scenario" jsonschema:"Path to a scenario YAML file, relative to the server root"`
	Steps    int    `json:"steps,omitempty" jsonschema:"Number of steps to run (default from configuration)"`
	Seed     *int64 `json:"seed,omitempty" jsonschema:"Seed for stochastic modules (default from configuration)"`
	Entity   string `json:"entity,omitempty" jsonschema:"Only report final levels of this entity"`
}

// Level is one final concentration.
type Level struct {
	Updatable  string  `json:"updatable"`
	Subsection string  `json:"subsection"`
	Entity     string  `json:"entity"`
	Value      float64 `json:"value" jsonschema:"Concentration in M"`
}

// RunOutput defines the output for the cellsim_run tool.
type RunOutput struct {
	RunID     string  `json:"run_id" jsonschema:"ID of the recorded run, usable with cellsim_series"`
	Scenario  string  `json:"scenario"`
	Steps     int     `json:"steps" jsonschema:"Steps applied"`
	Time      float64 `json:"time" jsonschema:"Simulated seconds"`
	Deltas    int     `json:"deltas" jsonschema:"Merged deltas applied over the run"`
	Clamped   int     `json:"clamped" jsonschema:"Values clamped to zero within tolerance"`
	Nodes     int     `json:"nodes"`
	Vesicles  int     `json:"vesicles" jsonschema:"Vesicles at the end of the run"`
	Final     []Level `json:"final" jsonschema:"Final concentrations"`
	Truncated bool    `json:"truncated,omitempty" jsonschema:"Whether final was cut to the first levels"`
	Message   string  `json:"message"`
}

// GraphInput defines the input for the cellsim_graph tool.
type GraphInput struct {
	Scenario   string `json:"scenario" jsonschema:"Path to a scenario YAML file, relative to the server root"`
	Steps      int    `json:"steps,omitempty" jsonschema:"Steps to run before rendering (default 0)"`
	Format     string `json:"format,omitempty" jsonschema:"Output format: dot or json (default json)"`
	Entity     string `json:"entity,omitempty" jsonschema:"Entity to shade nodes by (dot only)"`
	Subsection string `json:"subsection,omitempty" jsonschema:"Subsection to shade by (dot only, default all)"`
}

// GraphOutput defines the output for the cellsim_graph tool.
type GraphOutput struct {
	Format       string      `json:"format"`
	Step         uint64      `json:"step"`
	Graph        interface{} `json:"graph" jsonschema:"DOT text or JSON state"`
	NodeCount    int         `json:"node_count"`
	EdgeCount    int         `json:"edge_count"`
	VesicleCount int         `json:"vesicle_count"`
}

// SeriesInput defines the input for the cellsim_series tool.
type SeriesInput struct {
	RunID      string `json:"run_id" jsonschema:"Run ID returned by cellsim_run"`
	Updatable  string `json:"updatable" jsonschema:"Node or vesicle ID"`
	Subsection string `json:"subsection"`
	Entity     string `json:"entity"`
}

// Point is one sample of a series.
type Point struct {
	Step  uint64  `json:"step"`
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// SeriesOutput defines the output for the cellsim_series tool.
type SeriesOutput struct {
	RunID  string  `json:"run_id"`
	Points []Point `json:"points"`
	Count  int     `json:"count"`
}
