package gmp

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/gmp/mocks"
	"github.com/anstrom/gvmscan/internal/metrics"
)

func newTestClient(t *testing.T) (*Client, *mocks.MockChannel) {
	ctrl := gomock.NewController(t)
	ch := mocks.NewMockChannel(ctrl)
	return NewClient(ch, metrics.NewPrometheusMetrics()), ch
}

func TestClient_CreateTarget(t *testing.T) {
	ctx := context.Background()

	t.Run("returns id and escapes values", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().
			Execute(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, cmd string) ([]byte, error) {
				assert.Contains(t, cmd, "<hosts>10.0.0.0/24</hosts>")
				assert.Contains(t, cmd, "<alive_tests>ICMP, TCP-ACK Service &amp; ARP Ping</alive_tests>")
				assert.Contains(t, cmd, "<exclude_hosts>10.0.0.1</exclude_hosts>")
				assert.Contains(t, cmd, `<port_list id="pl-1"></port_list>`)
				return []byte(`<create_target_response status="201" status_text="OK, resource created" id="tgt-1"/>`), nil
			})

		id, err := client.CreateTarget(ctx, TargetSpec{
			Name:         "gvmscan-1234abcd",
			Hosts:        "10.0.0.0/24",
			ExcludeHosts: "10.0.0.1",
			AliveTest:    "ICMP, TCP-ACK Service & ARP Ping",
			PortListID:   "pl-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "tgt-1", id)
	})

	t.Run("missing id is a protocol error", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return([]byte(`<create_target_response status="201" status_text="OK"/>`), nil)

		_, err := client.CreateTarget(ctx, TargetSpec{Name: "n", Hosts: "h"})
		require.Error(t, err)
		assert.True(t, errors.IsProtocol(err))
		assert.Equal(t, errors.CodeProtocol, errors.GetCode(err))
	})

	t.Run("wrong response node is a protocol error", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return([]byte(`<create_task_response status="201" id="x"/>`), nil)

		_, err := client.CreateTarget(ctx, TargetSpec{Name: "n", Hosts: "h"})
		assert.True(t, errors.IsProtocol(err))
	})

	t.Run("rejected status", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return([]byte(`<create_target_response status="400" status_text="Target exists already"/>`), nil)

		_, err := client.CreateTarget(ctx, TargetSpec{Name: "n", Hosts: "h"})
		assert.Equal(t, errors.CodeRejected, errors.GetCode(err))
	})

	t.Run("transport error passes through", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return(nil, errors.NewTransportError("create_target", "connection refused", nil))

		_, err := client.CreateTarget(ctx, TargetSpec{Name: "n", Hosts: "h"})
		assert.True(t, errors.IsTransport(err))
	})

	t.Run("garbage reply is malformed", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), gomock.Any()).Return([]byte(`Failed to connect`), nil)

		_, err := client.CreateTarget(ctx, TargetSpec{Name: "n", Hosts: "h"})
		assert.True(t, errors.IsProtocol(err))
	})
}

func TestClient_CreateTaskAndStart(t *testing.T) {
	ctx := context.Background()
	client, ch := newTestClient(t)

	gomock.InOrder(
		ch.EXPECT().
			Execute(gomock.Any(), `<create_task><name>scan</name><config id="cfg-1"></config><target id="tgt-1"></target></create_task>`).
			Return([]byte(`<create_task_response status="201" id="task-1"/>`), nil),
		ch.EXPECT().
			Execute(gomock.Any(), `<start_task task_id="task-1"></start_task>`).
			Return([]byte(`<start_task_response status="202" status_text="OK, request submitted"><report_id>r-1</report_id></start_task_response>`), nil),
	)

	id, err := client.CreateTask(ctx, TaskSpec{Name: "scan", TargetID: "tgt-1", ConfigID: "cfg-1"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	require.NoError(t, client.StartTask(ctx, id))
}

func TestClient_TaskStatus(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		reply    string
		expected *TaskStatus
		code     errors.ErrorCode
	}{
		{
			name: "running with host progress",
			reply: `<get_tasks_response status="200"><task id="task-1"><name>scan</name><status>Running</status>
<progress>45<host_progress><host>10.0.0.2</host>45</host_progress></progress>
<current_report><report id="r-cur"/></current_report></task></get_tasks_response>`,
			expected: &TaskStatus{TaskID: "task-1", Status: "Running", Progress: 45, ReportID: "r-cur"},
		},
		{
			name: "done prefers last report",
			reply: `<get_tasks_response status="200"><task id="task-1"><status>Done</status><progress>-1</progress>
<last_report><report id="r-last"/></last_report></task></get_tasks_response>`,
			expected: &TaskStatus{TaskID: "task-1", Status: "Done", Progress: -1, ReportID: "r-last"},
		},
		{
			name:     "empty progress reads as zero",
			reply:    `<get_tasks_response status="200"><task id="task-1"><status>Requested</status><progress/></task></get_tasks_response>`,
			expected: &TaskStatus{TaskID: "task-1", Status: "Requested"},
		},
		{
			name:  "missing task",
			reply: `<get_tasks_response status="200"/>`,
			code:  errors.CodeProtocol,
		},
		{
			name:  "missing status",
			reply: `<get_tasks_response status="200"><task id="task-1"><progress>5</progress></task></get_tasks_response>`,
			code:  errors.CodeProtocol,
		},
		{
			name:  "non numeric progress",
			reply: `<get_tasks_response status="200"><task id="task-1"><status>Running</status><progress>lots</progress></task></get_tasks_response>`,
			code:  errors.CodeProtocol,
		},
		{
			name:  "unknown task",
			reply: `<get_tasks_response status="404" status_text="Failed to find task"/>`,
			code:  errors.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, ch := newTestClient(t)
			ch.EXPECT().Execute(gomock.Any(), `<get_tasks task_id="task-1"></get_tasks>`).Return([]byte(tt.reply), nil)

			status, err := client.TaskStatus(ctx, "task-1")
			if tt.expected == nil {
				require.Error(t, err)
				assert.Equal(t, tt.code, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestClient_List(t *testing.T) {
	ctx := context.Background()

	t.Run("tasks", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), `<get_tasks filter="rows=-1"></get_tasks>`).
			Return([]byte(`<get_tasks_response status="200"><task id="a"><name>one</name></task><task id="b"/></get_tasks_response>`), nil)

		objects, err := client.ListTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Object{
			{ID: "a", Name: "one", Kind: KindTask},
			{ID: "b", Kind: KindTask},
		}, objects)
	})

	t.Run("empty targets", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), `<get_targets filter="rows=-1"></get_targets>`).
			Return([]byte(`<get_targets_response status="200" status_text="OK"/>`), nil)

		objects, err := client.ListTargets(ctx)
		require.NoError(t, err)
		assert.Empty(t, objects)
	})

	t.Run("unknown kind", func(t *testing.T) {
		client, _ := newTestClient(t)
		_, err := client.List(ctx, Kind("report"))
		assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
	})
}

func TestClient_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("task ultimate", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), `<delete_task task_id="a" ultimate="1"></delete_task>`).
			Return([]byte(`<delete_task_response status="200" status_text="OK"/>`), nil)
		require.NoError(t, client.Delete(ctx, KindTask, "a"))
	})

	t.Run("absent target is not found", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), `<delete_target target_id="b" ultimate="1"></delete_target>`).
			Return([]byte(`<delete_target_response status="404" status_text="Failed to find target"/>`), nil)

		err := client.Delete(ctx, KindTarget, "b")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("target in use is rejected", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return([]byte(`<delete_target_response status="400" status_text="Target is in use"/>`), nil)

		err := client.Delete(ctx, KindTarget, "b")
		assert.Equal(t, errors.CodeRejected, errors.GetCode(err))
		assert.False(t, errors.IsNotFound(err))
	})
}

func TestClient_GetReport(t *testing.T) {
	ctx := context.Background()

	t.Run("base64 payload", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().
			Execute(gomock.Any(), `<get_reports report_id="r-1" format_id="fmt-pdf" details="1" ignore_pagination="1"></get_reports>`).
			Return([]byte(`<get_reports_response status="200"><report id="r-1" format_id="fmt-pdf" extension="pdf" content_type="application/pdf">JVBERi0x
LjQK<filters id=""/></report></get_reports_response>`), nil)

		report, err := client.GetReport(ctx, "r-1", "fmt-pdf")
		require.NoError(t, err)
		assert.Equal(t, "r-1", report.ID)
		assert.Equal(t, "pdf", report.Extension)
		assert.Equal(t, "JVBERi0x\nLjQK", report.Text)
	})

	t.Run("inline xml document", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return([]byte(`<get_reports_response status="200"><report id="r-1" format_id="fmt-xml" extension="xml" content_type="text/xml"><report id="r-1"><results/></report></report></get_reports_response>`), nil)

		report, err := client.GetReport(ctx, "r-1", "fmt-xml")
		require.NoError(t, err)
		assert.Equal(t, `<report id="r-1"><results/></report>`, report.InnerXML)
		assert.Equal(t,
			`<report id="r-1" format_id="fmt-xml" extension="xml" content_type="text/xml"><report id="r-1"><results/></report></report>`,
			string(report.Document()))
	})

	t.Run("missing report element", func(t *testing.T) {
		client, ch := newTestClient(t)
		ch.EXPECT().Execute(gomock.Any(), gomock.Any()).
			Return([]byte(`<get_reports_response status="200"/>`), nil)

		_, err := client.GetReport(ctx, "r-1", "fmt")
		assert.True(t, errors.IsProtocol(err))
	})
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "get_tasks", commandName(`<get_tasks task_id="x"/>`))
	assert.Equal(t, "start_task", commandName(`  <start_task/>`))
	assert.Equal(t, "create_target", commandName(`<create_target><name>a</name></create_target>`))
}

func TestAuthenticateCommandEscapes(t *testing.T) {
	cmd, err := authenticate("admin", `p<&>"`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cmd, "<authenticate><credentials><username>admin</username>"))
	assert.Contains(t, cmd, "&lt;&amp;&gt;")
	assert.Equal(t, "<authenticate><credentials><username>admin</username><password>***</password></credentials></authenticate>", redact(cmd))
}
