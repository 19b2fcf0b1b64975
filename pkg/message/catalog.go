package message

// Numeric message ids. High-frequency messages use one-byte ids, medium
// two-byte ids, low-frequency four-byte ids. PacketAck sits at the top of
// the id space so it never collides with catalog growth.
const (
	IDStartPingCheck    = 1
	IDCompletePingCheck = 2
	IDAgentUpdate       = 4

	IDChatFromSimulator    = 0x012B
	IDRegionHandshake      = 0x0194
	IDRegionHandshakeReply = 0x0195

	IDLoginRequest          = 0x10001
	IDLoginReply            = 0x10002
	IDUseCircuitCode        = 0x10003
	IDCompleteAgentMovement = 0x10031
	IDChatFromViewer        = 0x10050
	IDLogoutRequest         = 0x100FC

	IDPacketAck = 0xFFFFFFFB
)

// Default returns the standard template catalog: the handshake, presence
// and chat messages a viewer needs, plus the acknowledgment carrier used
// by the transport itself.
func Default() *Registry {
	r, err := NewRegistry(
		&Template{
			Name: "StartPingCheck",
			ID:   IDStartPingCheck,
			Blocks: []Block{{
				Name:        "PingID",
				Cardinality: Single,
				Fields: []Field{
					{Name: "PingID", Type: TypeU8},
					{Name: "OldestUnacked", Type: TypeU32},
				},
			}},
		},
		&Template{
			Name: "CompletePingCheck",
			ID:   IDCompletePingCheck,
			Blocks: []Block{{
				Name:        "PingID",
				Cardinality: Single,
				Fields:      []Field{{Name: "PingID", Type: TypeU8}},
			}},
		},
		&Template{
			Name:     "AgentUpdate",
			ID:       IDAgentUpdate,
			Compress: true,
			Blocks: []Block{{
				Name:        "AgentData",
				Cardinality: Single,
				Fields: []Field{
					{Name: "AgentID", Type: TypeUUID},
					{Name: "SessionID", Type: TypeUUID},
					{Name: "CameraCenter", Type: TypeVector3},
					{Name: "CameraAtAxis", Type: TypeVector3},
					{Name: "Far", Type: TypeF32},
					{Name: "ControlFlags", Type: TypeU32},
				},
			}},
		},
		&Template{
			Name: "ChatFromSimulator",
			ID:   IDChatFromSimulator,
			Blocks: []Block{{
				Name:        "ChatData",
				Cardinality: Single,
				Fields: []Field{
					{Name: "FromName", Type: TypeString},
					{Name: "SourceID", Type: TypeUUID},
					{Name: "SourceType", Type: TypeU8},
					{Name: "ChatType", Type: TypeU8},
					{Name: "Message", Type: TypeString},
					{Name: "Position", Type: TypeVector3},
				},
			}},
		},
		&Template{
			Name:     "RegionHandshake",
			ID:       IDRegionHandshake,
			Compress: true,
			Blocks: []Block{{
				Name:        "RegionInfo",
				Cardinality: Single,
				Fields: []Field{
					{Name: "RegionName", Type: TypeString},
					{Name: "RegionID", Type: TypeUUID},
					{Name: "WaterHeight", Type: TypeF32},
					{Name: "RegionFlags", Type: TypeU32},
				},
			}},
		},
		&Template{
			Name: "RegionHandshakeReply",
			ID:   IDRegionHandshakeReply,
			Blocks: []Block{
				{
					Name:        "AgentData",
					Cardinality: Single,
					Fields: []Field{
						{Name: "AgentID", Type: TypeUUID},
						{Name: "SessionID", Type: TypeUUID},
					},
				},
				{
					Name:        "RegionInfo",
					Cardinality: Single,
					Fields:      []Field{{Name: "Flags", Type: TypeU32}},
				},
			},
		},
		&Template{
			Name: "LoginRequest",
			ID:   IDLoginRequest,
			Blocks: []Block{{
				Name:        "Credentials",
				Cardinality: Single,
				Fields: []Field{
					{Name: "First", Type: TypeString},
					{Name: "Last", Type: TypeString},
					{Name: "Password", Type: TypeString},
					{Name: "Start", Type: TypeString},
				},
			}},
		},
		&Template{
			Name: "LoginReply",
			ID:   IDLoginReply,
			Blocks: []Block{{
				Name:        "Session",
				Cardinality: Single,
				Fields: []Field{
					{Name: "AgentID", Type: TypeUUID},
					{Name: "SessionID", Type: TypeUUID},
					{Name: "CircuitCode", Type: TypeU32},
					{Name: "SimIP", Type: TypeIPAddr},
					{Name: "SimPort", Type: TypeIPPort},
				},
			}},
		},
		&Template{
			Name: "UseCircuitCode",
			ID:   IDUseCircuitCode,
			Blocks: []Block{{
				Name:        "CircuitCode",
				Cardinality: Single,
				Fields: []Field{
					{Name: "Code", Type: TypeU32},
					{Name: "SessionID", Type: TypeUUID},
					{Name: "ID", Type: TypeUUID},
				},
			}},
		},
		&Template{
			Name: "CompleteAgentMovement",
			ID:   IDCompleteAgentMovement,
			Blocks: []Block{{
				Name:        "AgentData",
				Cardinality: Single,
				Fields: []Field{
					{Name: "AgentID", Type: TypeUUID},
					{Name: "SessionID", Type: TypeUUID},
					{Name: "CircuitCode", Type: TypeU32},
				},
			}},
		},
		&Template{
			Name: "ChatFromViewer",
			ID:   IDChatFromViewer,
			Blocks: []Block{
				{
					Name:        "AgentData",
					Cardinality: Single,
					Fields: []Field{
						{Name: "AgentID", Type: TypeUUID},
						{Name: "SessionID", Type: TypeUUID},
					},
				},
				{
					Name:        "ChatData",
					Cardinality: Single,
					Fields: []Field{
						{Name: "Message", Type: TypeString},
						{Name: "Type", Type: TypeU8},
						{Name: "Channel", Type: TypeU32},
					},
				},
			},
		},
		&Template{
			Name: "LogoutRequest",
			ID:   IDLogoutRequest,
			Blocks: []Block{{
				Name:        "AgentData",
				Cardinality: Single,
				Fields: []Field{
					{Name: "AgentID", Type: TypeUUID},
					{Name: "SessionID", Type: TypeUUID},
				},
			}},
		},
		&Template{
			Name: "PacketAck",
			ID:   IDPacketAck,
			Blocks: []Block{{
				Name:        "Packets",
				Cardinality: Variable,
				Fields:      []Field{{Name: "ID", Type: TypeU32}},
			}},
		},
	)
	if err != nil {
		// The standard catalog is static; a duplicate here is a build bug.
		panic(err)
	}
	return r
}
