package camera

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mothbox/winter-capture/internal/exposure"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
const (
	serviceName   = "mothbox.camera.v1.Camera"
	captureMethod = "/" + serviceName + "/Capture"
)

// CameraServer is the server side of the remote capture RPC. Messages are
// google.protobuf.Struct documents so both ends can evolve fields independently.
type CameraServer interface {
	Capture(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var cameraServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CameraServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Capture", Handler: captureHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mothbox/camera/v1/camera.proto",
}

// RegisterCameraServer exposes srv on s.
func RegisterCameraServer(s grpc.ServiceRegistrar, srv CameraServer) {
	s.RegisterService(&cameraServiceDesc, srv)
}

func captureHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CameraServer).Capture(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: captureMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CameraServer).Capture(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region server
// MeasureFunc returns the mean brightness of the image at path.
type MeasureFunc func(path string) (float64, bool)

// Server serves captures from a local Capturer, measuring brightness next to the camera
// so the client never needs the image bytes.
type Server struct {
	capturer Capturer
	measure  MeasureFunc
	logger   *slog.Logger
}

// NewServer wraps capturer. measure may be nil.
func NewServer(capturer Capturer, measure MeasureFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{capturer: capturer, measure: measure, logger: logger}
}

// Capture implements CameraServer.
func (s *Server) Capture(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res := s.capturer.Capture(ctx, req)
	if res.Succeeded() && s.measure != nil {
		if m, ok := s.measure(res.Artifact); ok {
			res.Mean = &m
		}
	}
	s.logger.Info("camera: served capture", "shutter_us", req.ExposureUs, "return_code", res.ReturnCodeLabel(), "artifact", res.Artifact)

	out, err := resultToStruct(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// #endregion server

// #region client
// RemoteInvoker captures through a CameraServer on another host.
type RemoteInvoker struct {
	conn grpc.ClientConnInterface
}

// DialRemote connects to a camera server at addr.
func DialRemote(addr string) (*RemoteInvoker, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteInvoker{conn: conn}, nil
}

// NewRemoteInvoker uses an existing connection.
func NewRemoteInvoker(conn grpc.ClientConnInterface) *RemoteInvoker {
	return &RemoteInvoker{conn: conn}
}

// Close shuts down the connection when the invoker owns one.
func (r *RemoteInvoker) Close() error {
	if c, ok := r.conn.(*grpc.ClientConn); ok {
		return c.Close()
	}
	return nil
}

// Capture implements Capturer. Transport failures become a failed Result.
func (r *RemoteInvoker) Capture(ctx context.Context, req Request) Result {
	in, err := requestToStruct(req)
	if err != nil {
		return Result{ReturnCode: ReturnCodeTransport, Stderr: fmt.Sprintf("encode request: %v", err)}
	}
	out := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, captureMethod, in, out); err != nil {
		return Result{ReturnCode: ReturnCodeTransport, Stderr: fmt.Sprintf("capture rpc: %v", err)}
	}
	return resultFromStruct(out)
}

// #endregion client

// #region encoding
func requestToStruct(req Request) (*structpb.Struct, error) {
	m := map[string]any{
		"exposure_us": float64(req.ExposureUs),
		"out_path":    req.OutPath,
	}
	if req.EV != nil {
		m["ev"] = *req.EV
	}
	if g := req.Gains.AnalogGain; g != nil {
		m["analog_gain"] = *g
	}
	if g := req.Gains.DigitalGain; g != nil {
		m["gain"] = *g
	}
	if a := req.Gains.AwbGains; a != nil {
		m["awb_gains"] = []any{a.Red, a.Blue}
	}
	return structpb.NewStruct(m)
}

func requestFromStruct(in *structpb.Struct) (Request, error) {
	f := in.GetFields()
	exp, ok := f["exposure_us"]
	if !ok || exp.GetNumberValue() <= 0 {
		return Request{}, fmt.Errorf("exposure_us must be positive")
	}
	path := f["out_path"].GetStringValue()
	if path == "" {
		return Request{}, fmt.Errorf("out_path is required")
	}
	req := Request{ExposureUs: int64(exp.GetNumberValue()), OutPath: path}
	if v, ok := f["ev"]; ok {
		ev := v.GetNumberValue()
		req.EV = &ev
	}
	if v, ok := f["analog_gain"]; ok {
		g := v.GetNumberValue()
		req.Gains.AnalogGain = &g
	}
	if v, ok := f["gain"]; ok {
		g := v.GetNumberValue()
		req.Gains.DigitalGain = &g
	}
	if v, ok := f["awb_gains"]; ok {
		vals := v.GetListValue().GetValues()
		if len(vals) != 2 {
			return Request{}, fmt.Errorf("awb_gains needs two values, got %d", len(vals))
		}
		req.Gains.AwbGains = &exposure.AwbGains{Red: vals[0].GetNumberValue(), Blue: vals[1].GetNumberValue()}
	}
	return req, nil
}

func resultToStruct(res Result) (*structpb.Struct, error) {
	m := map[string]any{
		"return_code": float64(res.ReturnCode),
		"dry_run":     res.DryRun,
		"stdout":      res.Stdout,
		"stderr":      res.Stderr,
		"artifact":    res.Artifact,
	}
	if res.Mean != nil {
		m["mean"] = *res.Mean
	}
	if res.Metadata != nil && res.Metadata.Raw != nil {
		m["metadata"] = res.Metadata.Raw
	}
	return structpb.NewStruct(m)
}

func resultFromStruct(out *structpb.Struct) Result {
	f := out.GetFields()
	res := Result{
		ReturnCode: int(f["return_code"].GetNumberValue()),
		DryRun:     f["dry_run"].GetBoolValue(),
		Stdout:     f["stdout"].GetStringValue(),
		Stderr:     f["stderr"].GetStringValue(),
		Artifact:   f["artifact"].GetStringValue(),
	}
	if v, ok := f["mean"]; ok {
		m := v.GetNumberValue()
		res.Mean = &m
	}
	if v, ok := f["metadata"]; ok && v.GetStructValue() != nil {
		res.Metadata = MetadataFromMap(v.GetStructValue().AsMap())
	}
	return res
}

// #endregion encoding
