package api

import (
	"context"

	"google.golang.org/grpc"
)

const QueueServerServiceName = "testdispatch.api.QueueServer"

// QueueServer is the coordination service workers and job submitters talk to.
type QueueServer interface {
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	FetchBucket(context.Context, *FetchBucketRequest) (*FetchBucketResponse, error)
	PushResult(context.Context, *PushResultRequest) (*PushResultResponse, error)
	ReportAliveness(context.Context, *ReportAlivenessRequest) (*ReportAlivenessResponse, error)
	ScheduleTests(context.Context, *ScheduleTestsRequest) (*ScheduleTestsResponse, error)
	JobState(context.Context, *JobStateRequest) (*JobStateResponse, error)
	JobResults(context.Context, *JobResultsRequest) (*JobResultsResponse, error)
	DeleteJob(context.Context, *DeleteJobRequest) (*DeleteJobResponse, error)
	FetchServerVersion(context.Context, *FetchServerVersionRequest) (*FetchServerVersionResponse, error)
}

var QueueServer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: QueueServerServiceName,
	HandlerType: (*QueueServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("RegisterWorker", QueueServer.RegisterWorker),
		unaryMethod("FetchBucket", QueueServer.FetchBucket),
		unaryMethod("PushResult", QueueServer.PushResult),
		unaryMethod("ReportAliveness", QueueServer.ReportAliveness),
		unaryMethod("ScheduleTests", QueueServer.ScheduleTests),
		unaryMethod("JobState", QueueServer.JobState),
		unaryMethod("JobResults", QueueServer.JobResults),
		unaryMethod("DeleteJob", QueueServer.DeleteJob),
		unaryMethod("FetchServerVersion", QueueServer.FetchServerVersion),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/api/service.go",
}

func RegisterQueueServerServer(s grpc.ServiceRegistrar, srv QueueServer) {
	s.RegisterService(&QueueServer_ServiceDesc, srv)
}

func FullMethodName(method string) string {
	return "/" + QueueServerServiceName + "/" + method
}

func unaryMethod[Req any, Resp any](name string, call func(QueueServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(QueueServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethodName(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(QueueServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type QueueServerClient interface {
	RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error)
	FetchBucket(ctx context.Context, in *FetchBucketRequest, opts ...grpc.CallOption) (*FetchBucketResponse, error)
	PushResult(ctx context.Context, in *PushResultRequest, opts ...grpc.CallOption) (*PushResultResponse, error)
	ReportAliveness(ctx context.Context, in *ReportAlivenessRequest, opts ...grpc.CallOption) (*ReportAlivenessResponse, error)
	ScheduleTests(ctx context.Context, in *ScheduleTestsRequest, opts ...grpc.CallOption) (*ScheduleTestsResponse, error)
	JobState(ctx context.Context, in *JobStateRequest, opts ...grpc.CallOption) (*JobStateResponse, error)
	JobResults(ctx context.Context, in *JobResultsRequest, opts ...grpc.CallOption) (*JobResultsResponse, error)
	DeleteJob(ctx context.Context, in *DeleteJobRequest, opts ...grpc.CallOption) (*DeleteJobResponse, error)
	FetchServerVersion(ctx context.Context, in *FetchServerVersionRequest, opts ...grpc.CallOption) (*FetchServerVersionResponse, error)
}

type queueServerClient struct {
	cc grpc.ClientConnInterface
}

func NewQueueServerClient(cc grpc.ClientConnInterface) QueueServerClient {
	return &queueServerClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethodName(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *queueServerClient) RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error) {
	return invoke[RegisterWorkerResponse](ctx, c.cc, "RegisterWorker", in, opts)
}

func (c *queueServerClient) FetchBucket(ctx context.Context, in *FetchBucketRequest, opts ...grpc.CallOption) (*FetchBucketResponse, error) {
	return invoke[FetchBucketResponse](ctx, c.cc, "FetchBucket", in, opts)
}

func (c *queueServerClient) PushResult(ctx context.Context, in *PushResultRequest, opts ...grpc.CallOption) (*PushResultResponse, error) {
	return invoke[PushResultResponse](ctx, c.cc, "PushResult", in, opts)
}

func (c *queueServerClient) ReportAliveness(ctx context.Context, in *ReportAlivenessRequest, opts ...grpc.CallOption) (*ReportAlivenessResponse, error) {
	return invoke[ReportAlivenessResponse](ctx, c.cc, "ReportAliveness", in, opts)
}

func (c *queueServerClient) ScheduleTests(ctx context.Context, in *ScheduleTestsRequest, opts ...grpc.CallOption) (*ScheduleTestsResponse, error) {
	return invoke[ScheduleTestsResponse](ctx, c.cc, "ScheduleTests", in, opts)
}

func (c *queueServerClient) JobState(ctx context.Context, in *JobStateRequest, opts ...grpc.CallOption) (*JobStateResponse, error) {
	return invoke[JobStateResponse](ctx, c.cc, "JobState", in, opts)
}

func (c *queueServerClient) JobResults(ctx context.Context, in *JobResultsRequest, opts ...grpc.CallOption) (*JobResultsResponse, error) {
	return invoke[JobResultsResponse](ctx, c.cc, "JobResults", in, opts)
}

func (c *queueServerClient) DeleteJob(ctx context.Context, in *DeleteJobRequest, opts ...grpc.CallOption) (*DeleteJobResponse, error) {
	return invoke[DeleteJobResponse](ctx, c.cc, "DeleteJob", in, opts)
}

func (c *queueServerClient) FetchServerVersion(ctx context.Context, in *FetchServerVersionRequest, opts ...grpc.CallOption) (*FetchServerVersionResponse, error) {
	return invoke[FetchServerVersionResponse](ctx, c.cc, "FetchServerVersion", in, opts)
}
