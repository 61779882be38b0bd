package archive_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/internal/adapters/repository/archive"
	"github.com/okian/tempo/internal/domain/types"
	"github.com/okian/tempo/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	snap := &repository.Snapshot{
		Board:   "rating",
		Version: 7,
		TakenAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Count:   2,
		Top: []types.Standing{
			{Rank: 1, PlayerID: "p2", Value: 1470},
			{Rank: 2, PlayerID: "p1", Value: 1330},
		},
	}

	convey.Convey("Given an archive over a fake client", t, func() {
		client := &fakePutter{}
		a := archive.NewWithClient(client, "tempo-bucket", "standings")

		convey.Convey("When a snapshot is uploaded", func() {
			err := a.Upload(ctx, snap)

			convey.So(err, convey.ShouldBeNil)
			convey.So(client.inputs, convey.ShouldHaveLength, 1)

			in := client.inputs[0]
			convey.So(aws.ToString(in.Bucket), convey.ShouldEqual, "tempo-bucket")
			convey.So(aws.ToString(in.Key), convey.ShouldEqual, "standings/rating/latest.json.gz")
			convey.So(aws.ToString(in.ContentEncoding), convey.ShouldEqual, "gzip")

			convey.Convey("Then the body is the gzipped snapshot", func() {
				gr, err := gzip.NewReader(bytes.NewReader(client.bodies[0]))
				convey.So(err, convey.ShouldBeNil)

				var got repository.Snapshot
				convey.So(json.NewDecoder(gr).Decode(&got), convey.ShouldBeNil)
				convey.So(got.Board, convey.ShouldEqual, "rating")
				convey.So(got.Version, convey.ShouldEqual, 7)
				convey.So(got.Top, convey.ShouldResemble, snap.Top)
				convey.So(got.TakenAt.Equal(snap.TakenAt), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the client fails", func() {
			client.err = errors.New("access denied")
			err := a.Upload(ctx, snap)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, client.err), convey.ShouldBeTrue)

			convey.Convey("Then the hook swallows the error", func() {
				convey.So(func() { a.Hook()(ctx, snap) }, convey.ShouldNotPanic)
			})
		})
	})

	convey.Convey("Given object keys", t, func() {
		convey.So(archive.ObjectKey("standings", "xp"), convey.ShouldEqual, "standings/xp/latest.json.gz")
		convey.So(archive.ObjectKey("", "xp"), convey.ShouldEqual, "xp/latest.json.gz")
		convey.So(archive.ObjectKey("a/b/", "rating"), convey.ShouldEqual, "a/b/rating/latest.json.gz")
	})
}
