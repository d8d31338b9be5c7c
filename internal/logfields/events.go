package logfields

import "go.uber.org/zap"

func EventProvider(val string) zap.Field {
	return zap.String("event_provider", val)
}

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func EventID(val string) zap.Field {
	return zap.String("event_id", val)
}

func EventKind(val string) zap.Field {
	return zap.String("event_kind", val)
}
