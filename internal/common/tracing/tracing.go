package tracing

import (
	"context"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// Begin は X-Ray のサブセグメントを開始し、終了用の関数を返します。
// 親セグメントがない場合(トレース無効時やテスト)は何もしません
func Begin(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, seg := xray.BeginSubsegment(ctx, name)
	if seg == nil {
		return ctx, func(error) {}
	}
	return ctx, func(err error) { seg.Close(err) }
}

// AddMetadata はカレントセグメントにメタデータを追加します
func AddMetadata(ctx context.Context, key string, value interface{}) {
	seg := xray.GetSegment(ctx)
	if seg == nil {
		return
	}
	_ = seg.AddMetadata(key, value)
}
