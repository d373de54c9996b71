package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/engine"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
	"github.com/ibdm-lab/isu-engine/internal/taskdomain"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	spec := Spec{Name: "nlu", Command: "sh", Args: []string{"-c", "cat"}, Env: map[string]string{"KEY": "VAL"}}
	if err := reg.Register(spec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := reg.Get("nlu")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Command != "sh" || got.Env["KEY"] != "VAL" {
		t.Errorf("Get = %+v", got)
	}
}

func TestRegistry_Rejects(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Spec{Name: "nlu", Command: "sh"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := reg.Register(Spec{Name: "nlu", Command: "sh"}); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("duplicate: err = %v", err)
	}
	if err := reg.Register(Spec{Name: "nlg"}); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("missing command: err = %v", err)
	}
	if _, err := reg.Get("nonexistent"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("unknown: err = %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"rasa", "gpt", "templates"} {
		if err := reg.Register(Spec{Name: name, Command: "sh"}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	list := reg.List()
	want := []string{"gpt", "rasa", "templates"}
	if len(list) != len(want) {
		t.Fatalf("List = %v", list)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("list[%d] = %q, want %q", i, list[i], want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Process tests
// ---------------------------------------------------------------------------

const (
	// Replies to every line with one request move for the travel task.
	interpretScript = `while IFS= read -r line; do
  printf '%s\n' '{"type":"moves","moves":[{"move_type":"request","content_kind":"text","content":"please","metadata":{"task":"travel_booking"}}]}'
done`

	// Echoes the request id back in a text reply.
	generateScript = `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed 's/^{"id":\([0-9]*\).*/\1/')
  printf '{"id":%s,"type":"text","text":"rendered %s"}\n' "$id" "$id"
done`
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("component scripts need a POSIX shell")
	}
}

func startScript(t *testing.T, script string, env map[string]string) *Process {
	t.Helper()
	requireShell(t)
	p, err := Start(Spec{Name: "test", Command: "sh", Args: []string{"-c", script}, Env: env}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestProcess_CallMatchesID(t *testing.T) {
	p := startScript(t, generateScript, nil)
	for _, want := range []string{"rendered 1", "rendered 2"} {
		resp, err := p.Call(context.Background(), Request{Type: MsgGenerate}, MsgText)
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if resp.Text != want {
			t.Errorf("Text = %q, want %q", resp.Text, want)
		}
	}
}

func TestProcess_SkipsStaleReplies(t *testing.T) {
	p := startScript(t, `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed 's/^{"id":\([0-9]*\).*/\1/')
  printf '{"id":99,"type":"text","text":"stale"}\n{"id":%s,"type":"text","text":"fresh"}\n' "$id"
done`, nil)
	resp, err := p.Call(context.Background(), Request{Type: MsgGenerate}, MsgText)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Text != "fresh" {
		t.Errorf("Text = %q, want fresh", resp.Text)
	}
}

func TestProcess_PassesEnv(t *testing.T) {
	p := startScript(t, `while IFS= read -r line; do
  printf '{"type":"text","text":"%s"}\n' "$GREETING"
done`, map[string]string{"GREETING": "howdy"})
	resp, err := p.Call(context.Background(), Request{Type: MsgGenerate}, MsgText)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Text != "howdy" {
		t.Errorf("Text = %q, want howdy", resp.Text)
	}
}

func TestProcess_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   *domain.EngineError
	}{
		{"error reply", `while IFS= read -r line; do printf '%s\n' '{"type":"error","error":"no model loaded"}'; done`, domain.ErrProviderProtocol},
		{"wrong reply type", `while IFS= read -r line; do printf '%s\n' '{"type":"moves"}'; done`, domain.ErrProviderProtocol},
		{"not json", `while IFS= read -r line; do echo hello; done`, domain.ErrProviderProtocol},
		{"process exits", `read -r line; exit 0`, domain.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := startScript(t, tt.script, nil)
			_, err := p.Call(context.Background(), Request{Type: MsgGenerate}, MsgText)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProcess_CallHonoursContext(t *testing.T) {
	p := startScript(t, `while IFS= read -r line; do :; done`, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Call(ctx, Request{Type: MsgGenerate}, MsgText)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestProcess_StopClosesDone(t *testing.T) {
	p := startScript(t, `sleep 60`, nil)
	if err := p.Stop(); err != nil {
		t.Logf("Stop returned (expected on kill): %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("done channel not closed after Stop")
	}
}

func TestProcess_StopKillsSpawnedChildren(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("inspects /proc")
	}
	// The wrapper reports the pid of a long-running child, then waits on it.
	p := startScript(t, `sleep 45 &
printf '{"type":"text","text":"%s"}\n' "$!"
wait`, nil)
	resp, err := p.Call(context.Background(), Request{Type: MsgGenerate}, MsgText)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	pid, err := strconv.Atoi(resp.Text)
	if err != nil {
		t.Fatalf("child pid %q: %v", resp.Text, err)
	}
	if !running(pid) {
		t.Fatalf("child %d not running before Stop", pid)
	}

	_ = p.Stop()
	deadline := time.Now().Add(5 * time.Second)
	for running(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("child %d still running after Stop", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// running reports whether pid is alive and not a zombie.
func running(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	return !strings.Contains(string(data), ") Z ")
}

// ---------------------------------------------------------------------------
// Component tests
// ---------------------------------------------------------------------------

func TestInterpreter_DecodesMoves(t *testing.T) {
	p := startScript(t, interpretScript, nil)
	st := infostate.New("system")
	st.Shared.PushQUD(domain.WhQuestion{Variable: "x", Pred: "dest_city"})

	moves, err := Interpreter{Target{Proc: p}}.Interpret(context.Background(), "book me a trip", "user", st)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if len(moves) != 1 || moves[0].Type != domain.MoveRequest {
		t.Fatalf("moves = %+v", moves)
	}
	if moves[0].MetaString(domain.MetaTask) != "travel_booking" || moves[0].Text() != "please" {
		t.Errorf("move = %+v", moves[0])
	}
}

func TestComponents_DriveEngine(t *testing.T) {
	nlu := startScript(t, interpretScript, nil)
	nlg := startScript(t, generateScript, nil)

	e, err := engine.New(engine.Config{
		Domain: taskdomain.TravelDomain(),
		NLU:    Interpreter{Target{Proc: nlu}},
		NLG:    Generator{Target{Proc: nlg}},
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	res, err := e.ProcessInput(context.Background(), "anything", "user", e.InitialState())
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if len(res.Outputs) != 1 || res.Outputs[0].Text != "rendered 1" {
		t.Fatalf("outputs = %+v", res.Outputs)
	}
	if len(res.State.Private.Plan) != 1 {
		t.Errorf("plan = %v, want the travel task", res.State.Private.Plan)
	}
}

func TestLauncher_SharesProcesses(t *testing.T) {
	requireShell(t)
	reg := NewRegistry()
	if err := reg.Register(Spec{Name: "gen", Command: "sh", Args: []string{"-c", generateScript}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	l := NewLauncher(reg, zaptest.NewLogger(t))
	defer l.StopAll()

	a, err := l.Get("gen")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := l.Get("gen")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if a != b {
		t.Error("launcher started a second process for one provider")
	}
	if _, err := l.Get("missing"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("unknown provider: err = %v", err)
	}

	l.StopAll()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("StopAll left the process running")
	}
	c, err := l.Get("gen")
	if err != nil {
		t.Fatalf("Get after StopAll: %v", err)
	}
	if c == a {
		t.Error("stopped process was reused")
	}
}

func TestGenerator_RestartsExitedProvider(t *testing.T) {
	requireShell(t)
	reg := NewRegistry()
	once := `read -r line; printf '%s\n' '{"type":"text","text":"once"}'`
	if err := reg.Register(Spec{Name: "flaky", Command: "sh", Args: []string{"-c", once}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	l := NewLauncher(reg, zaptest.NewLogger(t))
	defer l.StopAll()

	first, err := l.Get("flaky")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	gen := Generator{Target{Launcher: l, Name: "flaky"}}
	move := domain.DialogueMove{Type: domain.MoveGreet, Speaker: "system"}
	if text, err := gen.Generate(context.Background(), move, nil); err != nil || text != "once" {
		t.Fatalf("first Generate = %q, %v", text, err)
	}

	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("provider did not exit after one reply")
	}
	if text, err := gen.Generate(context.Background(), move, nil); err != nil || text != "once" {
		t.Fatalf("Generate after exit = %q, %v", text, err)
	}
}

func TestTarget_WithoutProcess(t *testing.T) {
	_, err := Generator{}.Generate(context.Background(), domain.DialogueMove{Type: domain.MoveGreet}, nil)
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}
