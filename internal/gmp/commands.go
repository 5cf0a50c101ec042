package gmp

import (
	"encoding/xml"
)

// Command element names.
const (
	cmdAuthenticate = "authenticate"
	cmdCreateTarget = "create_target"
	cmdCreateTask   = "create_task"
	cmdStartTask    = "start_task"
	cmdGetTasks     = "get_tasks"
	cmdGetTargets   = "get_targets"
	cmdGetReports   = "get_reports"
	cmdDeleteTask   = "delete_task"
	cmdDeleteTarget = "delete_target"
)

// listAll disables paging so every object of a kind is returned.
const listAll = "rows=-1"

type idRef struct {
	ID string `xml:"id,attr"`
}

type authenticateCommand struct {
	XMLName     xml.Name `xml:"authenticate"`
	Credentials struct {
		Username string `xml:"username"`
		Password string `xml:"password"`
	} `xml:"credentials"`
}

type createTargetCommand struct {
	XMLName      xml.Name `xml:"create_target"`
	Name         string   `xml:"name"`
	Hosts        string   `xml:"hosts"`
	ExcludeHosts string   `xml:"exclude_hosts,omitempty"`
	AliveTests   string   `xml:"alive_tests,omitempty"`
	PortList     *idRef   `xml:"port_list,omitempty"`
}

type createTaskCommand struct {
	XMLName xml.Name `xml:"create_task"`
	Name    string   `xml:"name"`
	Comment string   `xml:"comment,omitempty"`
	Config  idRef    `xml:"config"`
	Target  idRef    `xml:"target"`
	Scanner *idRef   `xml:"scanner,omitempty"`
}

type startTaskCommand struct {
	XMLName xml.Name `xml:"start_task"`
	TaskID  string   `xml:"task_id,attr"`
}

type getTasksCommand struct {
	XMLName xml.Name `xml:"get_tasks"`
	TaskID  string   `xml:"task_id,attr,omitempty"`
	Filter  string   `xml:"filter,attr,omitempty"`
}

type getTargetsCommand struct {
	XMLName xml.Name `xml:"get_targets"`
	Filter  string   `xml:"filter,attr,omitempty"`
}

type getReportsCommand struct {
	XMLName          xml.Name `xml:"get_reports"`
	ReportID         string   `xml:"report_id,attr"`
	FormatID         string   `xml:"format_id,attr"`
	Details          string   `xml:"details,attr"`
	IgnorePagination string   `xml:"ignore_pagination,attr"`
}

type deleteTaskCommand struct {
	XMLName  xml.Name `xml:"delete_task"`
	TaskID   string   `xml:"task_id,attr"`
	Ultimate string   `xml:"ultimate,attr"`
}

type deleteTargetCommand struct {
	XMLName  xml.Name `xml:"delete_target"`
	TargetID string   `xml:"target_id,attr"`
	Ultimate string   `xml:"ultimate,attr"`
}

// encode marshals a command struct. Every value is XML-escaped on the way.
func encode(v any) (string, error) {
	b, err := xml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func authenticate(username, password string) (string, error) {
	cmd := authenticateCommand{}
	cmd.Credentials.Username = username
	cmd.Credentials.Password = password
	return encode(cmd)
}

func createTarget(spec TargetSpec) (string, error) {
	cmd := createTargetCommand{
		Name:         spec.Name,
		Hosts:        spec.Hosts,
		ExcludeHosts: spec.ExcludeHosts,
		AliveTests:   spec.AliveTest,
	}
	if spec.PortListID != "" {
		cmd.PortList = &idRef{ID: spec.PortListID}
	}
	return encode(cmd)
}

func createTask(spec TaskSpec) (string, error) {
	cmd := createTaskCommand{
		Name:    spec.Name,
		Comment: spec.Comment,
		Config:  idRef{ID: spec.ConfigID},
		Target:  idRef{ID: spec.TargetID},
	}
	if spec.ScannerID != "" {
		cmd.Scanner = &idRef{ID: spec.ScannerID}
	}
	return encode(cmd)
}

func startTask(taskID string) (string, error) {
	return encode(startTaskCommand{TaskID: taskID})
}

func getTask(taskID string) (string, error) {
	return encode(getTasksCommand{TaskID: taskID})
}

func listCommand(kind Kind) (string, error) {
	switch kind {
	case KindTask:
		return encode(getTasksCommand{Filter: listAll})
	case KindTarget:
		return encode(getTargetsCommand{Filter: listAll})
	}
	return "", errUnknownKind(kind)
}

func getReport(reportID, formatID string) (string, error) {
	return encode(getReportsCommand{
		ReportID:         reportID,
		FormatID:         formatID,
		Details:          "1",
		IgnorePagination: "1",
	})
}

func deleteCommand(kind Kind, id string) (string, error) {
	switch kind {
	case KindTask:
		return encode(deleteTaskCommand{TaskID: id, Ultimate: "1"})
	case KindTarget:
		return encode(deleteTargetCommand{TargetID: id, Ultimate: "1"})
	}
	return "", errUnknownKind(kind)
}
