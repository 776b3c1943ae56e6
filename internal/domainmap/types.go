// Package domainmap holds the data model shared by the estimator, sampler,
// curriculum, and recommender: domains, questions, responses, and videos
// placed on the normalized [0,1]x[0,1] concept plane.
package domainmap

// Level classifies a Domain's place in the parent/child hierarchy.
type Level string

const (
	LevelAll     Level = "all"
	LevelGeneral Level = "general"
	LevelSub     Level = "sub"
)

// Region is an axis-aligned rectangle in the normalized plane.
type Region struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Contains reports whether (x, y) lies within the region, inclusive of edges.
func (r Region) Contains(x, y float64) bool {
	return x >= r.XMin && x <= r.XMax && y >= r.YMin && y <= r.YMax
}

// Width and Height of the region.
func (r Region) Width() float64  { return r.XMax - r.XMin }
func (r Region) Height() float64 { return r.YMax - r.YMin }

// Domain describes one node of the concept-map hierarchy.
type Domain struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ParentID      *string `json:"parent_id"`
	Level         Level   `json:"level"`
	Region        Region  `json:"region"`
	GridSize      int     `json:"grid_size"`
	QuestionCount int     `json:"question_count"`
}

// DomainRegistry is the top-level shape of data/domains/index.json.
type DomainRegistry struct {
	SchemaVersion string   `json:"schema_version"`
	Domains       []Domain `json:"domains"`
}

// Question is an immutable multiple-choice item placed at a fixed point.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       Options  `json:"options"`
	CorrectLabel  string   `json:"correct_label"`
	Difficulty    int      `json:"difficulty"`
	X             float64  `json:"x"`
	Y             float64  `json:"y"`
	Z             *float64 `json:"z,omitempty"`
	Source        string   `json:"source,omitempty"`
	DomainIDs     []string `json:"domain_ids"`
}

// Options maps answer labels A-D to option text.
type Options struct {
	A string `json:"A"`
	B string `json:"B"`
	C string `json:"C"`
	D string `json:"D"`
}

// GridLabel names one cell of a domain's grid (e.g. for minimap overlays).
type GridLabel struct {
	GX    int    `json:"gx"`
	GY    int    `json:"gy"`
	Label string `json:"label"`
}

// Article is a landmark/niche content item used by Curriculum.GetCentrality.
type Article struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// DomainBundle is the shape of data/domains/{id}.json.
type DomainBundle struct {
	Domain      BundleDomain `json:"domain"`
	Questions   []Question   `json:"questions"`
	Labels      []GridLabel  `json:"labels"`
	Articles    []Article    `json:"articles"`
}

// BundleDomain embeds Domain plus the question-id list that identifies its pool.
type BundleDomain struct {
	Domain
	QuestionIDs []string `json:"question_ids"`
}

// Response is the authoritative, append-only record of a user's answer.
type Response struct {
	QuestionID string  `json:"question_id"`
	DomainID   string  `json:"domain_id"`
	Selected   string  `json:"selected,omitempty"`
	Skipped    bool    `json:"skipped"`
	IsCorrect  bool    `json:"is_correct"`
	Timestamp  int64   `json:"timestamp"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Difficulty int     `json:"difficulty,omitempty"`
}

// Video describes a recommendable learning resource and its windows
// (points in concept-space where its content dwells).
type Video struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Duration int        `json:"duration"`
	Windows  []Point    `json:"windows"`
	Metadata *VideoMeta `json:"metadata,omitempty"`
}

// VideoMeta holds optional catalog metadata not otherwise modeled.
type VideoMeta struct {
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Point is a single (x, y) coordinate in concept-space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport restricts candidate selection and rendering to a sub-region.
type Viewport = Region
