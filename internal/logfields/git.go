package logfields

import "go.uber.org/zap"

func MergeRequest(val int) zap.Field {
	return zap.Int("merge_request", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func RepositoryOwner(val string) zap.Field {
	return zap.String("github.repository_owner", val)
}

func Branch(val string) zap.Field {
	return zap.String("git.branch", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func Author(val string) zap.Field {
	return zap.String("author", val)
}

func State(val string) zap.Field {
	return zap.String("merge_request.state", val)
}

func Priority(val int) zap.Field {
	return zap.Int("merge_request.priority", val)
}
