package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				type VARCHAR(64) NOT NULL,
				company_id VARCHAR(255) NOT NULL,
				external_id VARCHAR(255) NOT NULL DEFAULT '',
				stage VARCHAR(64) NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_workflows_company_id ON workflows(company_id);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				lead_id VARCHAR(255) NOT NULL DEFAULT '',
				company_id VARCHAR(255) NOT NULL,
				workflow_type VARCHAR(64) NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL CHECK (status IN ('STARTED', 'RUNNING', 'SUCCESS', 'FAILED', 'TIMEOUT', 'LOGGED')),
				triggered_by TEXT NOT NULL DEFAULT '',
				start_time TIMESTAMP WITH TIME ZONE NOT NULL,
				end_time TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT,
				input_data JSONB DEFAULT '{}',
				output_data JSONB DEFAULT '{}',
				error_message TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_workflow_executions_lookup ON workflow_executions(workflow_id, lead_id, company_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_start_time ON workflow_executions(start_time);
		`,
		2: `
			CREATE TABLE leads (
				id VARCHAR(255) PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL,
				campaign_id VARCHAR(255) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL DEFAULT '',
				email VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				enrichment_data JSONB DEFAULT '{}',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE replies (
				id VARCHAR(255) PRIMARY KEY,
				lead_id VARCHAR(255) NOT NULL,
				company_id VARCHAR(255) NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				classification VARCHAR(64) NOT NULL DEFAULT '',
				processed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE bookings (
				id VARCHAR(255) PRIMARY KEY,
				lead_id VARCHAR(255) NOT NULL,
				company_id VARCHAR(255) NOT NULL,
				reply_id VARCHAR(255) NOT NULL DEFAULT '',
				meeting_link TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_bookings_lead_id ON bookings(lead_id);

			CREATE TABLE action_logs (
				id VARCHAR(255) PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL DEFAULT '',
				lead_id VARCHAR(255) NOT NULL DEFAULT '',
				execution_id VARCHAR(255) NOT NULL DEFAULT '',
				action VARCHAR(128) NOT NULL,
				source VARCHAR(128) NOT NULL DEFAULT '',
				level VARCHAR(16) NOT NULL DEFAULT 'info',
				details JSONB DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_action_logs_company_id ON action_logs(company_id);
			CREATE INDEX idx_action_logs_execution_id ON action_logs(execution_id);
		`,
	}
}
