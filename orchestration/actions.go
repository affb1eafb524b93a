package orchestration

import (
	"conductor/eventing"
	"conductor/integration"
	"conductor/workflow"
)

// deriveIntegrationActions 从事件负载派生集成动作
//
// 派生规则按事件类型：
//   - action_item.created: 配置了项目管理集成时建任务，
//     带联系人信息且配置了 CRM 集成时建联系人；
//   - meeting.ended: 日历集成同步会议数据，通知集成发送纪要；
//   - client.created: CRM 集成建客户联系人；
//   - user.created: 通知集成发送欢迎消息。
//
// 成功的工作流结果可以追加动作（扩展点，当前为空）。
func deriveIntegrationActions(event *eventing.Event, workflowResults []workflow.TriggerResult) []integration.Action {
	var actions []integration.Action

	switch event.EventType {
	case eventing.EventActionItemCreated:
		actions = append(actions, actionItemActions(event)...)
	case eventing.EventMeetingEnded:
		actions = append(actions, meetingEndedActions(event)...)
	case eventing.EventClientCreated:
		actions = append(actions, clientCreatedActions(event)...)
	case eventing.EventUserCreated:
		actions = append(actions, userCreatedActions(event)...)
	}

	for _, result := range workflowResults {
		if result.Success {
			actions = append(actions, workflowDerivedActions(&result, event)...)
		}
	}
	return actions
}

func actionItemActions(event *eventing.Event) []integration.Action {
	var actions []integration.Action
	data := event.EventData

	if pm, ok := stringField(data, "projectManagementIntegration"); ok {
		actions = append(actions, integration.Action{
			ID:              "create-task-" + event.ID,
			Type:            integration.ActionCreateTask,
			IntegrationType: integration.Type(pm),
			Config: map[string]any{
				"projectId":  data["projectId"],
				"assigneeId": data["assigneeId"],
				"dueDate":    data["dueDate"],
			},
			Data: map[string]any{
				"title":       data["title"],
				"description": data["description"],
				"priority":    data["priority"],
				"tags":        data["tags"],
			},
		})
	}

	contactInfo, hasContact := data["contactInfo"].(map[string]any)
	if crm, ok := stringField(data, "crmIntegration"); ok && hasContact {
		actions = append(actions, integration.Action{
			ID:              "create-contact-" + event.ID,
			Type:            integration.ActionCreateContact,
			IntegrationType: integration.Type(crm),
			Data: map[string]any{
				"email":     contactInfo["email"],
				"firstName": contactInfo["firstName"],
				"lastName":  contactInfo["lastName"],
				"company":   contactInfo["company"],
				"phone":     contactInfo["phone"],
			},
		})
	}
	return actions
}

func meetingEndedActions(event *eventing.Event) []integration.Action {
	var actions []integration.Action
	data := event.EventData

	if calendar, ok := stringField(data, "calendarIntegration"); ok {
		actions = append(actions, integration.Action{
			ID:              "sync-meeting-" + event.ID,
			Type:            integration.ActionSyncData,
			IntegrationType: integration.Type(calendar),
			Data: map[string]any{
				"meetingId":    data["id"],
				"title":        data["title"],
				"startTime":    data["startTime"],
				"endTime":      data["endTime"],
				"participants": data["participants"],
				"transcript":   data["transcript"],
				"actionItems":  data["actionItems"],
			},
		})
	}

	if notifier, ok := stringField(data, "notificationIntegration"); ok {
		title, _ := stringField(data, "title")
		actions = append(actions, integration.Action{
			ID:              "send-meeting-summary-" + event.ID,
			Type:            integration.ActionSendNotification,
			IntegrationType: integration.Type(notifier),
			Data: map[string]any{
				"recipients":  data["participants"],
				"subject":     "Meeting Summary: " + title,
				"content":     data["summary"],
				"attachments": data["attachments"],
			},
		})
	}
	return actions
}

func clientCreatedActions(event *eventing.Event) []integration.Action {
	data := event.EventData
	crm, ok := stringField(data, "crmIntegration")
	if !ok {
		return nil
	}
	return []integration.Action{{
		ID:              "create-client-" + event.ID,
		Type:            integration.ActionCreateContact,
		IntegrationType: integration.Type(crm),
		Data: map[string]any{
			"email":     data["email"],
			"firstName": data["name"],
			"company":   data["company"],
			"phone":     data["phone"],
			"customFields": map[string]any{
				"clientType": "enterprise",
				"source":     "conductor",
			},
		},
	}}
}

func userCreatedActions(event *eventing.Event) []integration.Action {
	data := event.EventData
	notifier, ok := stringField(data, "notificationIntegration")
	if !ok {
		return nil
	}
	firstName, _ := stringField(data, "firstName")
	return []integration.Action{{
		ID:              "send-welcome-" + event.ID,
		Type:            integration.ActionSendNotification,
		IntegrationType: integration.Type(notifier),
		Data: map[string]any{
			"recipients": []any{data["email"]},
			"subject":    "Welcome!",
			"content":    "Welcome " + firstName + "! Your account has been created successfully.",
			"template":   "welcome",
		},
	}}
}

// workflowDerivedActions 由成功工作流结果派生动作的扩展点
func workflowDerivedActions(result *workflow.TriggerResult, event *eventing.Event) []integration.Action {
	return nil
}

func stringField(data map[string]any, key string) (string, bool) {
	value, ok := data[key].(string)
	return value, ok && value != ""
}
