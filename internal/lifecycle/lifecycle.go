package lifecycle

import (
	"cinemitr/internal/models"
)

// Variant names an entity type with its own status set and transition graph.
// Values double as the Postgres table names the audit log references.
type Variant string

const (
	VariantMovie       Variant = "movies"
	VariantContentItem Variant = "content_items"
	VariantUpload      Variant = "uploads"
	VariantExportJob   Variant = "export_jobs"
)

// graph is the directed edge set of legal transitions for one variant.
// Every status in the variant's set appears as a key, terminal states with
// an empty edge list.
type graph map[models.Status][]models.Status

// Movie and ContentItem share one graph. Failed is recoverable: a retry
// moves it back to Processing. Uploaded is terminal.
var contentGraph = graph{
	models.StatusNew:        {models.StatusReady, models.StatusInProgress, models.StatusProcessing, models.StatusFailed},
	models.StatusReady:      {models.StatusInProgress, models.StatusProcessing, models.StatusFailed},
	models.StatusInProgress: {models.StatusReady, models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing: {models.StatusUploaded, models.StatusFailed},
	models.StatusFailed:     {models.StatusProcessing},
	models.StatusUploaded:   {},
}

// Uploads never retry: completed and failed are both terminal.
var uploadGraph = graph{
	models.UploadPending:    {models.UploadUploading, models.UploadFailed},
	models.UploadUploading:  {models.UploadProcessing, models.UploadFailed},
	models.UploadProcessing: {models.UploadCompleted, models.UploadFailed},
	models.UploadCompleted:  {},
	models.UploadFailed:     {},
}

var exportGraph = graph{
	models.ExportPending:    {models.ExportProcessing, models.ExportFailed},
	models.ExportProcessing: {models.ExportCompleted, models.ExportFailed},
	models.ExportCompleted:  {},
	models.ExportFailed:     {},
}

var graphs = map[Variant]graph{
	VariantMovie:       contentGraph,
	VariantContentItem: contentGraph,
	VariantUpload:      uploadGraph,
	VariantExportJob:   exportGraph,
}

// initialStatuses per variant; inserts must start here.
var initialStatuses = map[Variant]models.Status{
	VariantMovie:       models.StatusNew,
	VariantContentItem: models.StatusNew,
	VariantUpload:      models.UploadPending,
	VariantExportJob:   models.ExportPending,
}

// InitialStatus returns the status newly inserted rows of the variant carry.
func InitialStatus(v Variant) models.Status {
	return initialStatuses[v]
}

// IsValidStatus reports whether s belongs to the variant's status set.
func IsValidStatus(v Variant, s models.Status) bool {
	g, ok := graphs[v]
	if !ok {
		return false
	}
	_, ok = g[s]
	return ok
}

// IsTerminal reports whether s has no outgoing edges for the variant.
func IsTerminal(v Variant, s models.Status) bool {
	g, ok := graphs[v]
	if !ok {
		return false
	}
	edges, ok := g[s]
	return ok && len(edges) == 0
}

// ValidateTransition decides whether current→requested is legal for the
// variant. A self-transition is always legal: it is an explicit
// caller-requested update and still produces an audit record downstream.
func ValidateTransition(v Variant, current, requested models.Status) error {
	g, ok := graphs[v]
	if !ok {
		return &TransitionError{Variant: v, From: current, To: requested, Reason: "unknown entity variant"}
	}
	edges, ok := g[current]
	if !ok {
		return &TransitionError{Variant: v, From: current, To: requested, Reason: "current status outside variant's set"}
	}
	if _, ok := g[requested]; !ok {
		return &TransitionError{Variant: v, From: current, To: requested, Reason: "requested status outside variant's set"}
	}
	if current == requested {
		return nil
	}
	for _, next := range edges {
		if next == requested {
			return nil
		}
	}
	return &TransitionError{Variant: v, From: current, To: requested, Reason: "no edge from current to requested status"}
}
