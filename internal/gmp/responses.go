package gmp

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/anstrom/gvmscan/internal/errors"
)

// status is carried by every response root element.
type status struct {
	Status     string `xml:"status,attr"`
	StatusText string `xml:"status_text,attr"`
}

func (s status) check(command string) error {
	if s.Status == "" {
		return errors.ErrMissingField(command, command+"_response/@status")
	}
	if !strings.HasPrefix(s.Status, "2") {
		return errors.ErrCommandStatus(command, s.Status, s.StatusText)
	}
	return nil
}

type statusCarrier interface {
	check(command string) error
}

type authenticateResponse struct {
	XMLName xml.Name `xml:"authenticate_response"`
	status
}

type createResponse struct {
	XMLName xml.Name
	status
	ID string `xml:"id,attr"`
}

type startTaskResponse struct {
	XMLName xml.Name `xml:"start_task_response"`
	status
	ReportID string `xml:"report_id"`
}

type deleteResponse struct {
	XMLName xml.Name
	status
}

type reportRef struct {
	Report idRef `xml:"report"`
}

type taskElement struct {
	ID            string    `xml:"id,attr"`
	Name          string    `xml:"name"`
	Status        string    `xml:"status"`
	Progress      chardata  `xml:"progress"`
	LastReport    reportRef `xml:"last_report"`
	CurrentReport reportRef `xml:"current_report"`
}

type chardata struct {
	Text string `xml:",chardata"`
}

type getTasksResponse struct {
	XMLName xml.Name `xml:"get_tasks_response"`
	status
	Tasks []taskElement `xml:"task"`
}

type targetElement struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name"`
}

type getTargetsResponse struct {
	XMLName xml.Name `xml:"get_targets_response"`
	status
	Targets []targetElement `xml:"target"`
}

type reportElement struct {
	ID          string `xml:"id,attr"`
	FormatID    string `xml:"format_id,attr"`
	Extension   string `xml:"extension,attr"`
	ContentType string `xml:"content_type,attr"`
	Text        string `xml:",chardata"`
	Inner       string `xml:",innerxml"`
}

type getReportsResponse struct {
	XMLName xml.Name `xml:"get_reports_response"`
	status
	Reports []reportElement `xml:"report"`
}

// decode parses a reply and checks its status attribute.
func decode(command string, raw []byte, v statusCarrier) error {
	if err := xml.Unmarshal(raw, v); err != nil {
		return errors.ErrMalformedResponse(command, err)
	}
	return v.check(command)
}

func decodeCreate(command string, raw []byte) (string, error) {
	var resp createResponse
	if err := decode(command, raw, &resp); err != nil {
		return "", err
	}
	if resp.XMLName.Local != command+"_response" {
		return "", errors.ErrMissingField(command, command+"_response")
	}
	if resp.ID == "" {
		return "", errors.ErrMissingField(command, command+"_response/@id")
	}
	return resp.ID, nil
}

func decodeDelete(command string, raw []byte) error {
	var resp deleteResponse
	if err := decode(command, raw, &resp); err != nil {
		return err
	}
	if resp.XMLName.Local != command+"_response" {
		return errors.ErrMissingField(command, command+"_response")
	}
	return nil
}

func decodeTaskStatus(taskID string, raw []byte) (*TaskStatus, error) {
	var resp getTasksResponse
	if err := decode(cmdGetTasks, raw, &resp); err != nil {
		return nil, err
	}

	var task *taskElement
	for i := range resp.Tasks {
		if resp.Tasks[i].ID == taskID {
			task = &resp.Tasks[i]
			break
		}
	}
	if task == nil {
		return nil, errors.ErrMissingField(cmdGetTasks, "get_tasks_response/task[@id="+taskID+"]")
	}
	if task.Status == "" {
		return nil, errors.ErrMissingField(cmdGetTasks, "task/status")
	}

	progress, err := parseProgress(task.Progress.Text)
	if err != nil {
		return nil, errors.ErrMalformedResponse(cmdGetTasks, err)
	}

	reportID := task.LastReport.Report.ID
	if reportID == "" {
		reportID = task.CurrentReport.Report.ID
	}

	return &TaskStatus{
		TaskID:   task.ID,
		Status:   task.Status,
		Progress: progress,
		ReportID: reportID,
	}, nil
}

// parseProgress reads the leading integer of a progress node. The daemon
// reports -1 for tasks that are not running.
func parseProgress(text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	return strconv.Atoi(text)
}

func decodeList(kind Kind, raw []byte) ([]Object, error) {
	switch kind {
	case KindTask:
		var resp getTasksResponse
		if err := decode(cmdGetTasks, raw, &resp); err != nil {
			return nil, err
		}
		objects := make([]Object, 0, len(resp.Tasks))
		for _, t := range resp.Tasks {
			if t.ID == "" {
				return nil, errors.ErrMissingField(cmdGetTasks, "task/@id")
			}
			objects = append(objects, Object{ID: t.ID, Name: t.Name, Kind: KindTask})
		}
		return objects, nil
	case KindTarget:
		var resp getTargetsResponse
		if err := decode(cmdGetTargets, raw, &resp); err != nil {
			return nil, err
		}
		objects := make([]Object, 0, len(resp.Targets))
		for _, t := range resp.Targets {
			if t.ID == "" {
				return nil, errors.ErrMissingField(cmdGetTargets, "target/@id")
			}
			objects = append(objects, Object{ID: t.ID, Name: t.Name, Kind: KindTarget})
		}
		return objects, nil
	}
	return nil, errUnknownKind(kind)
}

func decodeReport(reportID string, raw []byte) (*Report, error) {
	var resp getReportsResponse
	if err := decode(cmdGetReports, raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Reports) == 0 {
		return nil, errors.ErrMissingField(cmdGetReports, "get_reports_response/report")
	}

	r := resp.Reports[0]
	if r.ID == "" {
		r.ID = reportID
	}
	return &Report{
		ID:          r.ID,
		FormatID:    r.FormatID,
		Extension:   r.Extension,
		ContentType: r.ContentType,
		Text:        strings.TrimSpace(r.Text),
		InnerXML:    r.Inner,
	}, nil
}
