package engine

// Core meta fields.
const (
	fieldCsp   = "csp"
	fieldCid   = "cid"
	fieldTid   = "tid"
	fieldReply = "reply"
)

// Wire event names. Case sensitive ASCII; the two misspellings are
// wire-stable for interop with existing peers and must not be fixed.
const (
	// system
	evnUserid         = "userid"
	evnHeartbeat      = "heartbeat"
	evnHeartbeatReply = "heartbeatReply"

	// map view
	evnPut             = "put"
	evnGet             = "get"
	evnRemove          = "remove"
	evnGetAndPut       = "getAndPut"
	evnGetAndRemove    = "getAndRemove"
	evnPutIfAbsent     = "putIfAbsent"
	evnReplace         = "replace"
	evnReplaceForOld   = "replaceForOld"
	evnRemoveWithValue = "removeWithValue"
	evnContainsKey     = "containsKey"
	evnContainsValue   = "containsValue"
	evnSize            = "size"
	evnClear           = "clear"
	evnKeySet          = "keySet"
	evnValues          = "values"
	evnEntrySet        = "entrySet"
	evnPutAll          = "putAll"

	// collection views (set proxies)
	evnIterator = "iterator"
	evnContains = "contains"

	// subscriptions
	evnRegisterSubscriber   = "registerSubscriber"
	evnUnRegisterSubscriber = "unRegisterSubscriber"

	// topic publisher
	evnPublish                 = "publish"
	evnRegisterTopicSubscriber = "registerTopicSubscriber"
	evnOnEndOfSubscription     = "onEndOfSubscription"

	// topology
	evnRegisterTopologySubscriber = "registerTopologySubscriber"
	evnHost                       = "host"

	// replication
	evnIdentifier           = "identifier"
	evnIdentifierReply      = "identifierReply"
	evnBootstrap            = "bootstap"
	evnBootstrapReply       = "bootstrapReply"
	evnReplicationSubscribe = "replicationSubscribe"
	evnReplicationEvent     = "replicationEvent"
	evnReplicationReply     = "replicactionReply"
)

// Parameter field names.
const (
	paramKey        = "key"
	paramValue      = "value"
	paramOldValue   = "oldValue"
	paramNewValue   = "newValue"
	paramTopic      = "topic"
	paramMessage    = "message"
	paramIdentifier = "identifier"
	paramElement    = "element"
)

type eventId int

const (
	evUnknown eventId = iota
	evUserid
	evHeartbeat
	evHeartbeatReply
	evPut
	evGet
	evRemove
	evGetAndPut
	evGetAndRemove
	evPutIfAbsent
	evReplace
	evReplaceForOld
	evRemoveWithValue
	evContainsKey
	evContainsValue
	evSize
	evClear
	evKeySet
	evValues
	evEntrySet
	evPutAll
	evIterator
	evContains
	evRegisterSubscriber
	evUnRegisterSubscriber
	evPublish
	evRegisterTopicSubscriber
	evRegisterTopologySubscriber
	evIdentifier
	evBootstrap
	evReplicationSubscribe
	evReplicationEvent
)

// The dispatcher resolves event names once through this table; anything
// absent is a protocol violation.
var eventIdByName = map[string]eventId{
	evnUserid:                     evUserid,
	evnHeartbeat:                  evHeartbeat,
	evnHeartbeatReply:             evHeartbeatReply,
	evnPut:                        evPut,
	evnGet:                        evGet,
	evnRemove:                     evRemove,
	evnGetAndPut:                  evGetAndPut,
	evnGetAndRemove:               evGetAndRemove,
	evnPutIfAbsent:                evPutIfAbsent,
	evnReplace:                    evReplace,
	evnReplaceForOld:              evReplaceForOld,
	evnRemoveWithValue:            evRemoveWithValue,
	evnContainsKey:                evContainsKey,
	evnContainsValue:              evContainsValue,
	evnSize:                       evSize,
	evnClear:                      evClear,
	evnKeySet:                     evKeySet,
	evnValues:                     evValues,
	evnEntrySet:                   evEntrySet,
	evnPutAll:                     evPutAll,
	evnIterator:                   evIterator,
	evnContains:                   evContains,
	evnRegisterSubscriber:         evRegisterSubscriber,
	evnUnRegisterSubscriber:       evUnRegisterSubscriber,
	evnPublish:                    evPublish,
	evnRegisterTopicSubscriber:    evRegisterTopicSubscriber,
	evnRegisterTopologySubscriber: evRegisterTopologySubscriber,
	evnIdentifier:                 evIdentifier,
	evnBootstrap:                  evBootstrap,
	evnReplicationSubscribe:       evReplicationSubscribe,
	evnReplicationEvent:           evReplicationEvent,
}
