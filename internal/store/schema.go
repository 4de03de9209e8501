package store

// initSchema creates every table this package owns if it doesn't already
// exist. Each CREATE TABLE is plain ANSI SQL compatible with both SQLite
// and Postgres; JSON payload columns are stored as TEXT and marshaled /
// unmarshaled in Go at the repository boundary, matching the teacher's
// approach of storing structured data as JSON text rather than requiring
// native JSON column types everywhere.
func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS worktrees (
			id TEXT PRIMARY KEY,
			repo_id TEXT NOT NULL,
			path TEXT NOT NULL,
			ref TEXT NOT NULL,
			board_id TEXT,
			creator_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_worktrees_board_id ON worktrees(board_id)`,
		`CREATE TABLE IF NOT EXISTS boards (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT,
			icon TEXT,
			color TEXT,
			creator_id TEXT NOT NULL,
			objects TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			vendor TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'idle',
			agent_session_id TEXT,
			worktree_id TEXT NOT NULL,
			work_dir TEXT NOT NULL,
			git_state TEXT NOT NULL DEFAULT '{}',
			forked_from TEXT,
			fork_point_task TEXT,
			parent_session TEXT,
			spawn_point_task TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			tool_use_count INTEGER NOT NULL DEFAULT 0,
			allowed_tools TEXT NOT NULL DEFAULT '[]',
			model TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (worktree_id) REFERENCES worktrees(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_owner_id ON sessions(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_worktree_id ON sessions(worktree_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_parent_session ON sessions(parent_session)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			reason TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL,
			start_index INTEGER NOT NULL DEFAULT 0,
			end_index INTEGER NOT NULL DEFAULT 0,
			tool_use_count INTEGER NOT NULL DEFAULT 0,
			resolved_model TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			git_sha_start TEXT NOT NULL DEFAULT '',
			git_sha_end TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_session_id ON tasks(session_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			task_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_uses TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
			UNIQUE(session_id, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_task_id ON messages(task_id)`,
		`CREATE TABLE IF NOT EXISTS mcp_servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			transport TEXT NOT NULL,
			scope TEXT NOT NULL,
			owner_id TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			source TEXT NOT NULL DEFAULT 'user',
			command TEXT NOT NULL DEFAULT '',
			args TEXT NOT NULL DEFAULT '[]',
			env TEXT NOT NULL DEFAULT '{}',
			url TEXT NOT NULL DEFAULT '',
			auth_token TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_servers_owner_id ON mcp_servers(owner_id)`,
		`CREATE TABLE IF NOT EXISTS session_mcp_assignments (
			session_id TEXT NOT NULL,
			mcp_server_id TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			added_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, mcp_server_id),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
			FOREIGN KEY (mcp_server_id) REFERENCES mcp_servers(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS permission_requests (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			input_preview TEXT NOT NULL DEFAULT '',
			decided INTEGER NOT NULL DEFAULT 0,
			allowed INTEGER NOT NULL DEFAULT 0,
			scope TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			decided_at TIMESTAMP,
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_permission_requests_task_id ON permission_requests(task_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.writer().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
