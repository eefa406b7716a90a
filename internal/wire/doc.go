// Package wire defines the messages exchanged between a thin client and its
// server.
//
// Three request actions exist: new-instance (bootstrap), synchronize and
// terminate. Requests travel as HTTP form fields (action, client, events,
// lastUpdate) where events is a JSON array. Responses are JSON objects:
//
//	new-instance -> {"id": "#7"}
//	synchronize  -> {"updates": [...], "lastEvent": "#3"}
//	unknown id   -> {"result": false}
//
// Instructions are flat JSON objects. The id and action fields are lifted
// into Instruction.ID and Instruction.Kind; every other field, including
// target, is kept in Payload untouched.
package wire
