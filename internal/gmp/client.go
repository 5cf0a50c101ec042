package gmp

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/metrics"
)

// Kind identifies a daemon object type the client manages.
type Kind string

const (
	KindTask   Kind = "task"
	KindTarget Kind = "target"
)

// StatusDone is the task status that ends a scan successfully.
const StatusDone = "Done"

// Object is a reference to a daemon-owned object.
type Object struct {
	ID   string
	Name string
	Kind Kind
}

// TargetSpec describes a target to create.
type TargetSpec struct {
	Name         string
	Hosts        string
	ExcludeHosts string
	AliveTest    string
	PortListID   string
}

// TaskSpec describes a task to create.
type TaskSpec struct {
	Name      string
	Comment   string
	TargetID  string
	ConfigID  string
	ScannerID string
}

// TaskStatus is one authoritative status reading of a task.
type TaskStatus struct {
	TaskID   string
	Status   string
	Progress int
	ReportID string
}

// Done reports whether the task finished.
func (s *TaskStatus) Done() bool {
	return s.Status == StatusDone
}

// Report is the report element returned by the daemon.
type Report struct {
	ID          string
	FormatID    string
	Extension   string
	ContentType string

	// Text is the character data of the report element, the transfer
	// encoded payload for non-XML formats.
	Text string

	// InnerXML is the raw content of the report element.
	InnerXML string
}

// Document returns the report element rebuilt around its inner XML.
func (r *Report) Document() []byte {
	return fmt.Appendf(nil, `<report id="%s" format_id="%s" extension="%s" content_type="%s">%s</report>`,
		html.EscapeString(r.ID), html.EscapeString(r.FormatID),
		html.EscapeString(r.Extension), html.EscapeString(r.ContentType), r.InnerXML)
}

// Client performs typed object operations over a Channel.
type Client struct {
	channel Channel
	metrics *metrics.PrometheusMetrics
}

// NewClient creates a client. m may be nil.
func NewClient(ch Channel, m *metrics.PrometheusMetrics) *Client {
	return &Client{channel: ch, metrics: m}
}

func (c *Client) execute(ctx context.Context, name, command string) ([]byte, error) {
	start := time.Now()
	resp, err := c.channel.Execute(ctx, command)
	errType := ""
	if err != nil {
		errType = string(errors.GetCode(err))
	}
	c.metrics.RecordCommand(name, time.Since(start), errType)
	return resp, err
}

// CreateTarget creates a target and returns its ID.
func (c *Client) CreateTarget(ctx context.Context, spec TargetSpec) (string, error) {
	cmd, err := createTarget(spec)
	if err != nil {
		return "", err
	}
	resp, err := c.execute(ctx, cmdCreateTarget, cmd)
	if err != nil {
		return "", err
	}
	return decodeCreate(cmdCreateTarget, resp)
}

// CreateTask creates a task bound to a target and scan configuration.
func (c *Client) CreateTask(ctx context.Context, spec TaskSpec) (string, error) {
	cmd, err := createTask(spec)
	if err != nil {
		return "", err
	}
	resp, err := c.execute(ctx, cmdCreateTask, cmd)
	if err != nil {
		return "", err
	}
	return decodeCreate(cmdCreateTask, resp)
}

// StartTask starts a task. The reply carries no data beyond its status.
func (c *Client) StartTask(ctx context.Context, taskID string) error {
	cmd, err := startTask(taskID)
	if err != nil {
		return err
	}
	resp, err := c.execute(ctx, cmdStartTask, cmd)
	if err != nil {
		return err
	}
	var r startTaskResponse
	return decode(cmdStartTask, resp, &r)
}

// TaskStatus reads the current status of a task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	cmd, err := getTask(taskID)
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(ctx, cmdGetTasks, cmd)
	if err != nil {
		return nil, err
	}
	return decodeTaskStatus(taskID, resp)
}

// GetReport fetches a report in the given format.
func (c *Client) GetReport(ctx context.Context, reportID, formatID string) (*Report, error) {
	cmd, err := getReport(reportID, formatID)
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(ctx, cmdGetReports, cmd)
	if err != nil {
		return nil, err
	}
	report, err := decodeReport(reportID, resp)
	if err != nil {
		return nil, err
	}
	if report.FormatID == "" {
		report.FormatID = formatID
	}
	return report, nil
}

// List returns every object of a kind. An empty namespace is not an error.
func (c *Client) List(ctx context.Context, kind Kind) ([]Object, error) {
	cmd, err := listCommand(kind)
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(ctx, listCommandName(kind), cmd)
	if err != nil {
		return nil, err
	}
	return decodeList(kind, resp)
}

// ListTasks returns every task.
func (c *Client) ListTasks(ctx context.Context) ([]Object, error) {
	return c.List(ctx, KindTask)
}

// ListTargets returns every target.
func (c *Client) ListTargets(ctx context.Context) ([]Object, error) {
	return c.List(ctx, KindTarget)
}

// Delete removes an object bypassing the trashcan. A daemon answer that the
// object does not exist is returned as a NOT_FOUND protocol error.
func (c *Client) Delete(ctx context.Context, kind Kind, id string) error {
	cmd, err := deleteCommand(kind, id)
	if err != nil {
		return err
	}
	name := deleteCommandName(kind)
	resp, err := c.execute(ctx, name, cmd)
	if err != nil {
		return err
	}
	return decodeDelete(name, resp)
}

func listCommandName(kind Kind) string {
	if kind == KindTarget {
		return cmdGetTargets
	}
	return cmdGetTasks
}

func deleteCommandName(kind Kind) string {
	if kind == KindTarget {
		return cmdDeleteTarget
	}
	return cmdDeleteTask
}

func errUnknownKind(kind Kind) error {
	return errors.NewConfigFieldError(errors.CodeValidation, "Unknown object kind", "kind", kind)
}
