package eventing

// 业务域事件类型
const (
	// 用户域
	EventUserCreated     = "user.created"
	EventUserUpdated     = "user.updated"
	EventUserDeleted     = "user.deleted"
	EventUserActivated   = "user.activated"
	EventUserDeactivated = "user.deactivated"

	// 客户域
	EventClientCreated   = "client.created"
	EventClientUpdated   = "client.updated"
	EventClientDeleted   = "client.deleted"
	EventClientOnboarded = "client.onboarded"

	// 会议域
	EventMeetingCreated     = "meeting.created"
	EventMeetingStarted     = "meeting.started"
	EventMeetingEnded       = "meeting.ended"
	EventMeetingTranscribed = "meeting.transcribed"
	EventActionItemCreated  = "action_item.created"
	EventActionItemDone     = "action_item.completed"

	// 内容域
	EventContentCreated   = "content.created"
	EventContentPublished = "content.published"
	EventContentArchived  = "content.archived"

	// 工作流域
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"

	// 集成域
	EventIntegrationConnected     = "integration.connected"
	EventIntegrationDisconnected  = "integration.disconnected"
	EventIntegrationSyncCompleted = "integration.sync_completed"

	// 通知域
	EventNotificationSent      = "notification.sent"
	EventNotificationDelivered = "notification.delivered"
	EventNotificationFailed    = "notification.failed"
)

// 聚合类型
const (
	AggregateUser         = "user"
	AggregateClient       = "client"
	AggregateMeeting      = "meeting"
	AggregateContent      = "content"
	AggregateWorkflow     = "workflow"
	AggregateIntegration  = "integration"
	AggregateNotification = "notification"
)
