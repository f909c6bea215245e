package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'archived')),
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				entry_step_id VARCHAR(255) NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 0,
				created_by VARCHAR(255),
				updated_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_tenant_status ON flows(tenant_id, status);
			CREATE INDEX idx_flows_status_trigger ON flows(status, trigger_type);

			CREATE TABLE flow_steps (
				flow_id UUID NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				position INTEGER NOT NULL,
				kind VARCHAR(50) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				config JSONB DEFAULT '{}',
				PRIMARY KEY (flow_id, id)
			);

			CREATE TABLE flow_edges (
				flow_id UUID NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				source_step_id VARCHAR(255) NOT NULL,
				target_step_id VARCHAR(255) NOT NULL,
				handle VARCHAR(255) NOT NULL DEFAULT '',
				PRIMARY KEY (flow_id, position)
			);
		`,
		2: `
			CREATE TABLE runs (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				flow_id UUID NOT NULL,
				flow_version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('queued', 'running', 'completed', 'failed')),
				current_step_id VARCHAR(255) NOT NULL DEFAULT '',
				idempotency_key VARCHAR(255) NOT NULL,
				run_key TEXT NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				attempt INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				CONSTRAINT uq_runs_tenant_run_key UNIQUE (tenant_id, run_key)
			);

			CREATE INDEX idx_runs_flow_id ON runs(flow_id);

			CREATE TABLE jobs (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				run_id UUID NOT NULL UNIQUE,
				step_id VARCHAR(255) NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				locked_by VARCHAR(255),
				locked_at TIMESTAMP WITH TIME ZONE,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				payload JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_due_at ON jobs(due_at, created_at);

			CREATE TABLE run_logs (
				seq BIGSERIAL PRIMARY KEY,
				id UUID NOT NULL UNIQUE,
				tenant_id VARCHAR(255) NOT NULL,
				run_id UUID NOT NULL,
				step_id VARCHAR(255),
				level VARCHAR(20) NOT NULL,
				kind VARCHAR(20) NOT NULL,
				message TEXT NOT NULL,
				input JSONB,
				output JSONB,
				error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_run_logs_run ON run_logs(tenant_id, run_id, created_at, seq);
		`,
		3: `
			-- Drafts may hold duplicate step ids until publish rejects them.
			ALTER TABLE flow_steps DROP CONSTRAINT flow_steps_pkey;
			ALTER TABLE flow_steps ADD PRIMARY KEY (flow_id, position);
		`,
	}
}
