package artifact

import (
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServicePath is the twirp route prefix of the results artifact service.
const ServicePath = "/twirp/" + protoPackage + ".ArtifactService"

const protoPackage = "github.actions.results.api.v1"

// Message is a request or response of the artifact service. It is encoded
// with protojson against the results/api/v1/artifact.proto schema.
type Message interface {
	messageName() protoreflect.Name
	toProto(m protoreflect.Message)
	fromProto(m protoreflect.Message)
}

var artifactProto = buildArtifactProto()

func buildArtifactProto() protoreflect.FileDescriptor {
	const (
		timestamp  = ".google.protobuf.Timestamp"
		stringVal  = ".google.protobuf.StringValue"
		int64Val   = ".google.protobuf.Int64Value"
		monolithic = "." + protoPackage + ".ListArtifactsResponse_MonolithArtifact"
	)
	str := descriptorpb.FieldDescriptorProto_TYPE_STRING
	i64 := descriptorpb.FieldDescriptorProto_TYPE_INT64
	i32 := descriptorpb.FieldDescriptorProto_TYPE_INT32
	boolean := descriptorpb.FieldDescriptorProto_TYPE_BOOL
	msg := descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	field := func(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
		f := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(number),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:   typ.Enum(),
		}
		if typeName != "" {
			f.TypeName = proto.String(typeName)
		}
		return f
	}
	message := func(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	}
	// every request is scoped to a run and job
	scoped := func(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
		return message(name, append([]*descriptorpb.FieldDescriptorProto{
			field("workflow_run_backend_id", 1, str, ""),
			field("workflow_job_run_backend_id", 2, str, ""),
		}, fields...)...)
	}
	artifacts := field("artifacts", 1, msg, monolithic)
	artifacts.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("results/api/v1/artifact.proto"),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			timestamppb.File_google_protobuf_timestamp_proto.Path(),
			wrapperspb.File_google_protobuf_wrappers_proto.Path(),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			scoped("CreateArtifactRequest",
				field("name", 3, str, ""),
				field("expires_at", 4, msg, timestamp),
				field("version", 5, i32, "")),
			message("CreateArtifactResponse",
				field("ok", 1, boolean, ""),
				field("signed_upload_url", 2, str, "")),
			scoped("FinalizeArtifactRequest",
				field("name", 3, str, ""),
				field("size", 4, i64, ""),
				field("hash", 5, msg, stringVal)),
			message("FinalizeArtifactResponse",
				field("ok", 1, boolean, ""),
				field("artifact_id", 2, i64, "")),
			scoped("ListArtifactsRequest",
				field("name_filter", 3, msg, stringVal),
				field("id_filter", 4, msg, int64Val)),
			message("ListArtifactsResponse", artifacts),
			scoped("ListArtifactsResponse_MonolithArtifact",
				field("database_id", 3, i64, ""),
				field("name", 4, str, ""),
				field("size", 5, i64, ""),
				field("created_at", 6, msg, timestamp),
				field("digest", 7, msg, stringVal)),
			scoped("GetSignedArtifactURLRequest",
				field("name", 3, str, "")),
			message("GetSignedArtifactURLResponse",
				field("signed_url", 1, str, "")),
			scoped("DeleteArtifactRequest",
				field("name", 3, str, "")),
			message("DeleteArtifactResponse",
				field("ok", 1, boolean, ""),
				field("artifact_id", 2, i64, "")),
		},
	}

	deps := new(protoregistry.Files)
	for _, dep := range []protoreflect.FileDescriptor{
		timestamppb.File_google_protobuf_timestamp_proto,
		wrapperspb.File_google_protobuf_wrappers_proto,
	} {
		if err := deps.RegisterFile(dep); err != nil {
			panic(err)
		}
	}
	fd, err := protodesc.NewFile(file, deps)
	if err != nil {
		panic(err)
	}
	return fd
}

func newMessage(v Message) *dynamicpb.Message {
	return dynamicpb.NewMessage(artifactProto.Messages().ByName(v.messageName()))
}

// MarshalMessage encodes v as protobuf JSON.
func MarshalMessage(v Message) ([]byte, error) {
	m := newMessage(v)
	v.toProto(m)
	return protojson.Marshal(m)
}

// UnmarshalMessage decodes protobuf JSON into v. Both the proto and the
// JSON field names are accepted, unknown fields are ignored.
func UnmarshalMessage(b []byte, v Message) error {
	m := newMessage(v)
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(b, m); err != nil {
		return err
	}
	v.fromProto(m)
	return nil
}

// DecodeMessage reads a whole twirp JSON message from r into v.
func DecodeMessage(r io.Reader, v Message) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return UnmarshalMessage(b, v)
}

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	return m.Descriptor().Fields().ByName(name)
}

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(fieldOf(m, name)).String()
}

func setInt64(m protoreflect.Message, name protoreflect.Name, v int64) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfInt64(v))
}

func getInt64(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(fieldOf(m, name)).Int()
}

func setBool(m protoreflect.Message, name protoreflect.Name, v bool) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfBool(v))
}

func getBool(m protoreflect.Message, name protoreflect.Name) bool {
	return m.Get(fieldOf(m, name)).Bool()
}

// setStringValue sets a google.protobuf.StringValue field, leaving it unset
// for "".
func setStringValue(m protoreflect.Message, name protoreflect.Name, v string) {
	if v == "" {
		return
	}
	w := m.Mutable(fieldOf(m, name)).Message()
	w.Set(fieldOf(w, "value"), protoreflect.ValueOfString(v))
}

func getStringValue(m protoreflect.Message, name protoreflect.Name) *string {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return nil
	}
	w := m.Get(fd).Message()
	v := w.Get(fieldOf(w, "value")).String()
	return &v
}

func setInt64Value(m protoreflect.Message, name protoreflect.Name, v *int64) {
	if v == nil {
		return
	}
	w := m.Mutable(fieldOf(m, name)).Message()
	w.Set(fieldOf(w, "value"), protoreflect.ValueOfInt64(*v))
}

func getInt64Value(m protoreflect.Message, name protoreflect.Name) *int64 {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return nil
	}
	w := m.Get(fd).Message()
	v := w.Get(fieldOf(w, "value")).Int()
	return &v
}

func setTimestamp(m protoreflect.Message, name protoreflect.Name, t *time.Time) {
	if t == nil {
		return
	}
	ts := timestamppb.New(*t)
	dst := m.Mutable(fieldOf(m, name)).Message()
	dst.Set(fieldOf(dst, "seconds"), protoreflect.ValueOfInt64(ts.GetSeconds()))
	dst.Set(fieldOf(dst, "nanos"), protoreflect.ValueOfInt32(ts.GetNanos()))
}

func getTimestamp(m protoreflect.Message, name protoreflect.Name) *time.Time {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return nil
	}
	src := m.Get(fd).Message()
	ts := &timestamppb.Timestamp{
		Seconds: src.Get(fieldOf(src, "seconds")).Int(),
		Nanos:   int32(src.Get(fieldOf(src, "nanos")).Int()),
	}
	t := ts.AsTime()
	return &t
}

// backend carries the run and job every scoped request names.
type backend struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
}

func (b *backend) toProto(m protoreflect.Message) {
	setString(m, "workflow_run_backend_id", b.WorkflowRunBackendID)
	setString(m, "workflow_job_run_backend_id", b.WorkflowJobRunBackendID)
}

func (b *backend) fromProto(m protoreflect.Message) {
	b.WorkflowRunBackendID = getString(m, "workflow_run_backend_id")
	b.WorkflowJobRunBackendID = getString(m, "workflow_job_run_backend_id")
}

type CreateArtifactRequest struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
	Name                    string
	ExpiresAt               *time.Time
	Version                 int32
}

func (*CreateArtifactRequest) messageName() protoreflect.Name { return "CreateArtifactRequest" }

func (r *CreateArtifactRequest) toProto(m protoreflect.Message) {
	(&backend{r.WorkflowRunBackendID, r.WorkflowJobRunBackendID}).toProto(m)
	setString(m, "name", r.Name)
	setTimestamp(m, "expires_at", r.ExpiresAt)
	m.Set(fieldOf(m, "version"), protoreflect.ValueOfInt32(r.Version))
}

func (r *CreateArtifactRequest) fromProto(m protoreflect.Message) {
	var b backend
	b.fromProto(m)
	r.WorkflowRunBackendID, r.WorkflowJobRunBackendID = b.WorkflowRunBackendID, b.WorkflowJobRunBackendID
	r.Name = getString(m, "name")
	r.ExpiresAt = getTimestamp(m, "expires_at")
	r.Version = int32(m.Get(fieldOf(m, "version")).Int())
}

type CreateArtifactResponse struct {
	Ok              bool
	SignedUploadURL string
}

func (*CreateArtifactResponse) messageName() protoreflect.Name { return "CreateArtifactResponse" }

func (r *CreateArtifactResponse) toProto(m protoreflect.Message) {
	setBool(m, "ok", r.Ok)
	setString(m, "signed_upload_url", r.SignedUploadURL)
}

func (r *CreateArtifactResponse) fromProto(m protoreflect.Message) {
	r.Ok = getBool(m, "ok")
	r.SignedUploadURL = getString(m, "signed_upload_url")
}

type FinalizeArtifactRequest struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
	Name                    string
	Size                    int64
	Hash                    string
}

func (*FinalizeArtifactRequest) messageName() protoreflect.Name { return "FinalizeArtifactRequest" }

func (r *FinalizeArtifactRequest) toProto(m protoreflect.Message) {
	(&backend{r.WorkflowRunBackendID, r.WorkflowJobRunBackendID}).toProto(m)
	setString(m, "name", r.Name)
	setInt64(m, "size", r.Size)
	setStringValue(m, "hash", r.Hash)
}

func (r *FinalizeArtifactRequest) fromProto(m protoreflect.Message) {
	var b backend
	b.fromProto(m)
	r.WorkflowRunBackendID, r.WorkflowJobRunBackendID = b.WorkflowRunBackendID, b.WorkflowJobRunBackendID
	r.Name = getString(m, "name")
	r.Size = getInt64(m, "size")
	if h := getStringValue(m, "hash"); h != nil {
		r.Hash = *h
	}
}

type FinalizeArtifactResponse struct {
	Ok         bool
	ArtifactID int64
}

func (*FinalizeArtifactResponse) messageName() protoreflect.Name { return "FinalizeArtifactResponse" }

func (r *FinalizeArtifactResponse) toProto(m protoreflect.Message) {
	setBool(m, "ok", r.Ok)
	setInt64(m, "artifact_id", r.ArtifactID)
}

func (r *FinalizeArtifactResponse) fromProto(m protoreflect.Message) {
	r.Ok = getBool(m, "ok")
	r.ArtifactID = getInt64(m, "artifact_id")
}

type ListArtifactsRequest struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
	NameFilter              *string
	IDFilter                *int64
}

func (*ListArtifactsRequest) messageName() protoreflect.Name { return "ListArtifactsRequest" }

func (r *ListArtifactsRequest) toProto(m protoreflect.Message) {
	(&backend{r.WorkflowRunBackendID, r.WorkflowJobRunBackendID}).toProto(m)
	if r.NameFilter != nil {
		setStringValue(m, "name_filter", *r.NameFilter)
	}
	setInt64Value(m, "id_filter", r.IDFilter)
}

func (r *ListArtifactsRequest) fromProto(m protoreflect.Message) {
	var b backend
	b.fromProto(m)
	r.WorkflowRunBackendID, r.WorkflowJobRunBackendID = b.WorkflowRunBackendID, b.WorkflowJobRunBackendID
	r.NameFilter = getStringValue(m, "name_filter")
	r.IDFilter = getInt64Value(m, "id_filter")
}

type MonolithArtifact struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
	DatabaseID              int64
	Name                    string
	Size                    int64
	CreatedAt               *time.Time
	Digest                  string
}

func (*MonolithArtifact) messageName() protoreflect.Name {
	return "ListArtifactsResponse_MonolithArtifact"
}

func (a *MonolithArtifact) toProto(m protoreflect.Message) {
	(&backend{a.WorkflowRunBackendID, a.WorkflowJobRunBackendID}).toProto(m)
	setInt64(m, "database_id", a.DatabaseID)
	setString(m, "name", a.Name)
	setInt64(m, "size", a.Size)
	setTimestamp(m, "created_at", a.CreatedAt)
	setStringValue(m, "digest", a.Digest)
}

func (a *MonolithArtifact) fromProto(m protoreflect.Message) {
	var b backend
	b.fromProto(m)
	a.WorkflowRunBackendID, a.WorkflowJobRunBackendID = b.WorkflowRunBackendID, b.WorkflowJobRunBackendID
	a.DatabaseID = getInt64(m, "database_id")
	a.Name = getString(m, "name")
	a.Size = getInt64(m, "size")
	a.CreatedAt = getTimestamp(m, "created_at")
	if d := getStringValue(m, "digest"); d != nil {
		a.Digest = *d
	}
}

// ListArtifactsResult is the wire form of ListArtifactsResponse.
type ListArtifactsResult struct {
	Artifacts []*MonolithArtifact
}

func (*ListArtifactsResult) messageName() protoreflect.Name { return "ListArtifactsResponse" }

func (r *ListArtifactsResult) toProto(m protoreflect.Message) {
	list := m.Mutable(fieldOf(m, "artifacts")).List()
	for _, a := range r.Artifacts {
		el := list.NewElement()
		a.toProto(el.Message())
		list.Append(el)
	}
}

func (r *ListArtifactsResult) fromProto(m protoreflect.Message) {
	list := m.Get(fieldOf(m, "artifacts")).List()
	r.Artifacts = make([]*MonolithArtifact, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		a := &MonolithArtifact{}
		a.fromProto(list.Get(i).Message())
		r.Artifacts = append(r.Artifacts, a)
	}
}

type GetSignedArtifactURLRequest struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
	Name                    string
}

func (*GetSignedArtifactURLRequest) messageName() protoreflect.Name {
	return "GetSignedArtifactURLRequest"
}

func (r *GetSignedArtifactURLRequest) toProto(m protoreflect.Message) {
	(&backend{r.WorkflowRunBackendID, r.WorkflowJobRunBackendID}).toProto(m)
	setString(m, "name", r.Name)
}

func (r *GetSignedArtifactURLRequest) fromProto(m protoreflect.Message) {
	var b backend
	b.fromProto(m)
	r.WorkflowRunBackendID, r.WorkflowJobRunBackendID = b.WorkflowRunBackendID, b.WorkflowJobRunBackendID
	r.Name = getString(m, "name")
}

type GetSignedArtifactURLResponse struct {
	SignedURL string
}

func (*GetSignedArtifactURLResponse) messageName() protoreflect.Name {
	return "GetSignedArtifactURLResponse"
}

func (r *GetSignedArtifactURLResponse) toProto(m protoreflect.Message) {
	setString(m, "signed_url", r.SignedURL)
}

func (r *GetSignedArtifactURLResponse) fromProto(m protoreflect.Message) {
	r.SignedURL = getString(m, "signed_url")
}

type DeleteArtifactRequest struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
	Name                    string
}

func (*DeleteArtifactRequest) messageName() protoreflect.Name { return "DeleteArtifactRequest" }

func (r *DeleteArtifactRequest) toProto(m protoreflect.Message) {
	(&backend{r.WorkflowRunBackendID, r.WorkflowJobRunBackendID}).toProto(m)
	setString(m, "name", r.Name)
}

func (r *DeleteArtifactRequest) fromProto(m protoreflect.Message) {
	var b backend
	b.fromProto(m)
	r.WorkflowRunBackendID, r.WorkflowJobRunBackendID = b.WorkflowRunBackendID, b.WorkflowJobRunBackendID
	r.Name = getString(m, "name")
}

// DeleteArtifactResult is the wire form of DeleteArtifactResponse.
type DeleteArtifactResult struct {
	Ok         bool
	ArtifactID int64
}

func (*DeleteArtifactResult) messageName() protoreflect.Name { return "DeleteArtifactResponse" }

func (r *DeleteArtifactResult) toProto(m protoreflect.Message) {
	setBool(m, "ok", r.Ok)
	setInt64(m, "artifact_id", r.ArtifactID)
}

func (r *DeleteArtifactResult) fromProto(m protoreflect.Message) {
	r.Ok = getBool(m, "ok")
	r.ArtifactID = getInt64(m, "artifact_id")
}
