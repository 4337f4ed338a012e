package camera

import (
	"context"
	"net"
	"testing"

	"github.com/mothbox/winter-capture/internal/exposure"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// #region mock
type recordingCapturer struct {
	got    []Request
	result Result
}

func (r *recordingCapturer) Capture(_ context.Context, req Request) Result {
	r.got = append(r.got, req)
	return r.result
}

// startServer serves srv over an in-memory listener and returns a connected invoker.
func startServer(t *testing.T, srv CameraServer) *RemoteInvoker {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterCameraServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	inv := NewRemoteInvoker(conn)
	t.Cleanup(func() { inv.Close() })
	return inv
}

// #endregion mock

// #region remote-tests
func TestRemoteCapture_RoundTrip(t *testing.T) {
	cam := &recordingCapturer{result: Result{
		ReturnCode: 0,
		Artifact:   "/data/shot.jpg",
		Stdout:     `{"ExposureTime": 4000}`,
		Metadata:   ExtractMetadata(`{"ExposureTime": 4000, "AwbGains": [1.8, 1.5]}`),
	}}
	measured := ""
	srv := NewServer(cam, func(path string) (float64, bool) {
		measured = path
		return 97.5, true
	}, nil)
	inv := startServer(t, srv)

	ag := 1.25
	res := inv.Capture(context.Background(), Request{
		ExposureUs: 4000,
		OutPath:    "/data/shot.jpg",
		Gains: exposure.GainSettings{
			AnalogGain: &ag,
			AwbGains:   &exposure.AwbGains{Red: 1.8, Blue: 1.5},
		},
	})

	if !res.Succeeded() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Mean == nil || *res.Mean != 97.5 {
		t.Fatalf("expected mean 97.5, got %v", res.Mean)
	}
	if measured != "/data/shot.jpg" {
		t.Fatalf("server measured %q", measured)
	}
	if res.Metadata == nil || res.Metadata.ExposureTime == nil || *res.Metadata.ExposureTime != 4000 {
		t.Fatalf("metadata lost in transit: %+v", res.Metadata)
	}

	if len(cam.got) != 1 {
		t.Fatalf("expected one capture, got %d", len(cam.got))
	}
	got := cam.got[0]
	if got.ExposureUs != 4000 || got.Gains.AnalogGain == nil || *got.Gains.AnalogGain != 1.25 {
		t.Fatalf("request mangled: %+v", got)
	}
	if got.Gains.AwbGains == nil || got.Gains.AwbGains.Blue != 1.5 {
		t.Fatalf("awb gains mangled: %+v", got.Gains.AwbGains)
	}
	if got.Gains.DigitalGain != nil {
		t.Fatal("unset gain should stay unset")
	}
}

func TestRemoteCapture_FailureNotMeasured(t *testing.T) {
	cam := &recordingCapturer{result: Result{ReturnCode: 1, Stderr: "no camera"}}
	srv := NewServer(cam, func(string) (float64, bool) {
		t.Fatal("failed capture must not be measured")
		return 0, false
	}, nil)
	inv := startServer(t, srv)

	res := inv.Capture(context.Background(), Request{ExposureUs: 100, OutPath: "/data/x.jpg"})
	if res.Succeeded() || res.ReturnCode != 1 || res.Stderr != "no camera" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Mean != nil {
		t.Fatal("mean should be absent")
	}
}

func TestRemoteCapture_InvalidRequest(t *testing.T) {
	inv := startServer(t, NewServer(&recordingCapturer{}, nil, nil))

	res := inv.Capture(context.Background(), Request{ExposureUs: 100})
	if res.Succeeded() || res.ReturnCode != ReturnCodeTransport {
		t.Fatalf("expected transport failure, got %+v", res)
	}
}

// #endregion remote-tests
