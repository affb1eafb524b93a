package eventing

import "context"

// IEventStore 事件存储核心接口（最小化设计）
//
// 事件存储是追加型的：只增不改。实现需保证：
//   - Append 在事件版本不等于聚合当前版本 + 1 时返回 *ConflictError；
//   - 读取是最终一致的，调用方必须容忍刚追加的事件尚未出现在查询结果中。
//
// 核心负责在追加前通过 LatestVersion 计算下一个版本号，
// 存储层只做精确比较，不做自动分配。
type IEventStore interface {
	// Append 追加单个事件
	//
	// 返回：
	//   - *ConflictError: 事件版本不是聚合当前版本 + 1
	//   - *EventStoreError: 其他存储错误
	Append(ctx context.Context, event *Event) error

	// LoadByAggregate 加载聚合的事件历史
	//
	// 参数：
	//   - fromVersion: 起始版本号（包含），0 表示从头加载
	//
	// 返回：按版本号升序排列的事件列表
	LoadByAggregate(ctx context.Context, aggregateID string, fromVersion uint64) ([]Event, error)

	// LoadByType 按事件类型加载事件
	//
	// 返回：按时间戳降序（最新在前）的事件列表，最多 limit 条
	LoadByType(ctx context.Context, eventType string, limit int) ([]Event, error)

	// LoadByCorrelation 按关联 ID 加载因果链上的事件
	//
	// 返回：按时间戳升序排列的事件列表
	LoadByCorrelation(ctx context.Context, correlationID string) ([]Event, error)

	// LatestVersion 返回聚合的当前版本号，0 表示聚合尚无事件
	LatestVersion(ctx context.Context, aggregateID string) (uint64, error)
}

// NextVersion 读取聚合当前版本并返回下一个可追加版本号
//
// 注意：读取与追加之间没有跨进程互斥，同聚合的并发追加
// 由存储层的版本比较拒绝，调用方据 *ConflictError 重试。
func NextVersion(ctx context.Context, store IEventStore, aggregateID string) (uint64, error) {
	current, err := store.LatestVersion(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}
