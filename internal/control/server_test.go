package control_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/net/websocket"

	"github.com/javabridge/javabridge/internal/bridge"
	"github.com/javabridge/javabridge/internal/control"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
	"github.com/javabridge/javabridge/internal/vm"
)

func TestServerEvalRoundTrip(t *testing.T) {
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	defer emu.Close()

	env := vm.NewFakeEnv(emu)
	api := vm.NewFakeApi(emu, jnienv.FlavorArt)
	cls := env.DefineClass("com.example.Util")
	cls.Method("answer", true, false, "int", nil, func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeInt, I64: 42}, nil
	})

	srv := control.NewServer(func() (*bridge.Context, error) {
		return bridge.New(env, api, jnitype.Default()), nil
	})

	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	ws, err := websocket.Dial(wsURL, "", httpSrv.URL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	if err := websocket.JSON.Send(ws, control.Request{Op: "eval", Code: `Bridge.use("com.example.Util").answer()`}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var resp control.Response
	if err := websocket.JSON.Receive(ws, &resp); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("eval returned error: %s", resp.Error)
	}
	n, ok := resp.Result.(float64)
	if !ok || n != 42 {
		t.Errorf("result = %v (%T), want 42", resp.Result, resp.Result)
	}

	var traceResp control.Response
	if err := websocket.JSON.Receive(ws, &traceResp); err != nil {
		t.Fatalf("Receive trace: %v", err)
	}
	if traceResp.Event == nil || traceResp.Event.Tags.Primary() != "class-use" {
		t.Errorf("expected a class-use trace event, got %+v", traceResp.Event)
	}
}

func TestServerDisposeEndsSession(t *testing.T) {
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	defer emu.Close()

	env := vm.NewFakeEnv(emu)
	api := vm.NewFakeApi(emu, jnienv.FlavorArt)

	srv := control.NewServer(func() (*bridge.Context, error) {
		return bridge.New(env, api, jnitype.Default()), nil
	})
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	ws, err := websocket.Dial(wsURL, "", httpSrv.URL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	if err := websocket.JSON.Send(ws, control.Request{Op: "dispose"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var resp control.Response
	if err := websocket.JSON.Receive(ws, &resp); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("dispose returned error: %s", resp.Error)
	}
}
