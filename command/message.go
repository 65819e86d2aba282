package command

import "github.com/c360/cachescope/querycache"

// Action names a command sent by the inspector.
type Action string

// Inspector actions
const (
	ActionRefetch              Action = "ACTION-REFETCH"
	ActionInvalidate           Action = "ACTION-INVALIDATE"
	ActionReset                Action = "ACTION-RESET"
	ActionRemove               Action = "ACTION-REMOVE"
	ActionDataUpdate           Action = "ACTION-DATA-UPDATE"
	ActionDeleteDataField      Action = "ACTION-DELETE-DATA-FIELD"
	ActionTriggerLoading       Action = "ACTION-TRIGGER-LOADING"
	ActionRestoreLoading       Action = "ACTION-RESTORE-LOADING"
	ActionTriggerError         Action = "ACTION-TRIGGER-ERROR"
	ActionRestoreError         Action = "ACTION-RESTORE-ERROR"
	ActionClearMutationCache   Action = "ACTION-CLEAR-MUTATION-CACHE"
	ActionClearQueryCache      Action = "ACTION-CLEAR-QUERY-CACHE"
	ActionOnlineManagerOnline  Action = "ACTION-ONLINE-MANAGER-ONLINE"
	ActionOnlineManagerOffline Action = "ACTION-ONLINE-MANAGER-OFFLINE"
)

// AllDevices addresses a command to every connected device.
const AllDevices = "All"

// Message is the payload of a query-action event.
type Message struct {
	QueryHash string         `json:"queryHash"`
	QueryKey  querycache.Key `json:"queryKey"`
	Data      any            `json:"data,omitempty"`
	Action    Action         `json:"action"`
	DeviceID  string         `json:"deviceId"`
}

// OnlineManagerMessage is the payload of an online-manager event.
type OnlineManagerMessage struct {
	Action         Action `json:"action"`
	TargetDeviceID string `json:"targetDeviceId"`
}

// Actions lists every action the router understands.
func Actions() []Action {
	return []Action{
		ActionRefetch, ActionInvalidate, ActionReset, ActionRemove,
		ActionDataUpdate, ActionDeleteDataField,
		ActionTriggerLoading, ActionRestoreLoading,
		ActionTriggerError, ActionRestoreError,
		ActionClearMutationCache, ActionClearQueryCache,
		ActionOnlineManagerOnline, ActionOnlineManagerOffline,
	}
}
