package saga

import "conductor/errors"

// 内置 Saga 模板名称
const (
	DefClientOnboarding  = "client_onboarding"
	DefMeetingProcessing = "meeting_processing"
	DefContentPublishing = "content_publishing"
)

// builtinDefinitions 业务内置的 Saga 模板
var builtinDefinitions = map[string]*Definition{
	DefClientOnboarding: {
		Name:                 "Client Onboarding",
		CompensationStrategy: BackwardRecovery,
		Steps: []StepDefinition{
			{
				Name:         "Create Client Record",
				Action:       "client.create",
				Compensation: "client.delete",
				TimeoutMs:    30000,
				RetryPolicy:  &RetryPolicy{MaxRetries: 3, BackoffMs: 1000, BackoffMultiplier: 2},
			},
			{
				Name:         "Setup User Accounts",
				Action:       "user.bulk_create",
				Compensation: "user.bulk_delete",
				TimeoutMs:    60000,
				RetryPolicy:  &RetryPolicy{MaxRetries: 3, BackoffMs: 2000, BackoffMultiplier: 2},
				DependsOn:    []string{"Create Client Record"},
			},
			{
				Name:         "Configure Integrations",
				Action:       "integration.setup_defaults",
				Compensation: "integration.remove_defaults",
				TimeoutMs:    120000,
				RetryPolicy:  &RetryPolicy{MaxRetries: 2, BackoffMs: 5000, BackoffMultiplier: 2},
				DependsOn:    []string{"Setup User Accounts"},
			},
			{
				Name:        "Send Welcome Notifications",
				Action:      "notification.send_welcome",
				TimeoutMs:   30000,
				RetryPolicy: &RetryPolicy{MaxRetries: 2, BackoffMs: 1000, BackoffMultiplier: 2},
				DependsOn:   []string{"Configure Integrations"},
			},
		},
	},

	DefMeetingProcessing: {
		Name:                 "Meeting Processing",
		CompensationStrategy: ForwardRecovery,
		Steps: []StepDefinition{
			{
				Name:        "Transcribe Audio",
				Action:      "meeting.transcribe",
				TimeoutMs:   300000,
				RetryPolicy: &RetryPolicy{MaxRetries: 2, BackoffMs: 10000, BackoffMultiplier: 2},
			},
			{
				Name:        "Extract Action Items",
				Action:      "meeting.extract_action_items",
				TimeoutMs:   120000,
				RetryPolicy: &RetryPolicy{MaxRetries: 3, BackoffMs: 5000, BackoffMultiplier: 2},
				DependsOn:   []string{"Transcribe Audio"},
			},
			{
				Name:        "Generate Summary",
				Action:      "meeting.generate_summary",
				TimeoutMs:   180000,
				RetryPolicy: &RetryPolicy{MaxRetries: 2, BackoffMs: 10000, BackoffMultiplier: 2},
				DependsOn:   []string{"Extract Action Items"},
			},
			{
				Name:        "Update Analytics",
				Action:      "analytics.update_meeting_metrics",
				TimeoutMs:   60000,
				RetryPolicy: &RetryPolicy{MaxRetries: 3, BackoffMs: 2000, BackoffMultiplier: 2},
				DependsOn:   []string{"Generate Summary"},
			},
		},
	},

	DefContentPublishing: {
		Name:                 "Content Publishing",
		CompensationStrategy: BackwardRecovery,
		Steps: []StepDefinition{
			{
				Name:        "Validate Content",
				Action:      "content.validate",
				TimeoutMs:   30000,
				RetryPolicy: &RetryPolicy{MaxRetries: 2, BackoffMs: 1000, BackoffMultiplier: 2},
			},
			{
				Name:        "Generate SEO Metadata",
				Action:      "content.generate_seo",
				TimeoutMs:   60000,
				RetryPolicy: &RetryPolicy{MaxRetries: 2, BackoffMs: 2000, BackoffMultiplier: 2},
				DependsOn:   []string{"Validate Content"},
			},
			{
				Name:         "Publish to CMS",
				Action:       "content.publish_to_cms",
				Compensation: "content.unpublish_from_cms",
				TimeoutMs:    120000,
				RetryPolicy:  &RetryPolicy{MaxRetries: 3, BackoffMs: 5000, BackoffMultiplier: 2},
				DependsOn:    []string{"Generate SEO Metadata"},
			},
			{
				Name:        "Notify Stakeholders",
				Action:      "notification.notify_published",
				TimeoutMs:   30000,
				RetryPolicy: &RetryPolicy{MaxRetries: 2, BackoffMs: 1000, BackoffMultiplier: 2},
				DependsOn:   []string{"Publish to CMS"},
			},
		},
	},
}

// BuiltinDefinition 按名称查找内置模板
//
// 返回模板副本，调用方修改不影响内置注册表。
func BuiltinDefinition(name string) (*Definition, error) {
	def, ok := builtinDefinitions[name]
	if !ok {
		return nil, errors.NewValidation("unknown saga definition: %s", name)
	}
	copied := *def
	copied.Steps = append([]StepDefinition(nil), def.Steps...)
	return &copied, nil
}

// BuiltinDefinitionNames 返回全部内置模板名称
func BuiltinDefinitionNames() []string {
	names := make([]string, 0, len(builtinDefinitions))
	for name := range builtinDefinitions {
		names = append(names, name)
	}
	return names
}
